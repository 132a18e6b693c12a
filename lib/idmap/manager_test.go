// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idmap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/remote"
	"github.com/bureau-foundation/tracehook/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeRegistrar hands out increasing ids starting at 100 and records
// every call.
type fakeRegistrar struct {
	mu              sync.Mutex
	nextID          ident.RemoteID
	platformErr     error
	methodErr       error
	unregisterErr   error
	calls           []string
	mappings        [][3]ident.RemoteID
	unregisterCalls int
	// platformGate, when set, blocks RegisterPlatform until closed;
	// platformEntered is signalled before blocking.
	platformGate    chan struct{}
	platformEntered chan struct{}
	// methodGate and unregisterGate work the same way for the first
	// RegisterMethod and for UnregisterPlatform.
	methodGate        chan struct{}
	methodEntered     chan struct{}
	unregisterGate    chan struct{}
	unregisterEntered chan struct{}
	unregistered      []ident.RemoteID
}

func newFakeRegistrar() *fakeRegistrar { return &fakeRegistrar{nextID: 100} }

func (f *fakeRegistrar) assign(call string, err error) (ident.RemoteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if err != nil {
		return 0, err
	}
	id := f.nextID
	f.nextID++
	return id, nil
}

func (f *fakeRegistrar) RegisterPlatform(ctx context.Context, platform ident.PlatformDescriptor) (ident.RemoteID, error) {
	f.mu.Lock()
	gate := f.platformGate
	err := f.platformErr
	f.mu.Unlock()
	if gate != nil {
		f.platformEntered <- struct{}{}
		<-gate
	}
	return f.assign("platform:"+platform.AgentName, err)
}

func (f *fakeRegistrar) RegisterMethod(ctx context.Context, platform ident.RemoteID, method ident.MethodDescriptor) (ident.RemoteID, error) {
	f.mu.Lock()
	err := f.methodErr
	gate := f.methodGate
	f.methodGate = nil
	f.mu.Unlock()
	if gate != nil {
		f.methodEntered <- struct{}{}
		<-gate
	}
	return f.assign("method:"+method.Name, err)
}

func (f *fakeRegistrar) RegisterSensorType(ctx context.Context, platform ident.RemoteID, sensorType ident.SensorTypeDescriptor) (ident.RemoteID, error) {
	return f.assign("sensor:"+sensorType.Name, nil)
}

func (f *fakeRegistrar) MapSensorTypeToMethod(ctx context.Context, platform, sensorType, method ident.RemoteID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "mapping")
	f.mappings = append(f.mappings, [3]ident.RemoteID{platform, sensorType, method})
	return nil
}

func (f *fakeRegistrar) UnregisterPlatform(ctx context.Context, platform ident.RemoteID) error {
	f.mu.Lock()
	gate := f.unregisterGate
	f.mu.Unlock()
	if gate != nil {
		f.unregisterEntered <- struct{}{}
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls++
	f.unregistered = append(f.unregistered, platform)
	return f.unregisterErr
}

func (f *fakeRegistrar) set(apply func(*fakeRegistrar)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f)
}

func (f *fakeRegistrar) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	manager   *Manager
	registrar *fakeRegistrar
	clock     *clock.FakeClock
	cycles    chan error
	stopped   chan struct{}
	cancel    context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registrar := newFakeRegistrar()
	fakeClock := clock.Fake(epoch)
	manager, err := New(Config{
		Registrar: registrar,
		Platform:  ident.PlatformDescriptor{AgentName: "checkout", Hostname: "web-1"},
		Clock:     fakeClock,
		Logger:    testutil.Logger(),
		Interval:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &harness{
		manager:   manager,
		registrar: registrar,
		clock:     fakeClock,
		cycles:    make(chan error, 64),
		stopped:   make(chan struct{}),
	}
	manager.afterCycle = func(err error) { h.cycles <- err }
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		h.manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, h.stopped, 5*time.Second, "registration loop exit")
	})
}

// waitUntil consumes cycle results until condition holds.
func (h *harness) waitUntil(t *testing.T, description string, condition func() bool) {
	t.Helper()
	for range 20 {
		testutil.RequireReceive(t, h.cycles, 5*time.Second, "waiting for a cycle: %s", description)
		if condition() {
			return
		}
	}
	t.Fatalf("condition never held: %s", description)
}

func method(name string) ident.MethodDescriptor {
	return ident.MethodDescriptor{Package: "shop/orders", Name: name}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Clock: clock.Fake(epoch), Logger: testutil.Logger()}); err == nil {
		t.Error("missing Registrar accepted")
	}
	if _, err := New(Config{Registrar: newFakeRegistrar(), Logger: testutil.Logger()}); err == nil {
		t.Error("missing Clock accepted")
	}
	if _, err := New(Config{Registrar: newFakeRegistrar(), Clock: clock.Fake(epoch)}); err == nil {
		t.Error("missing Logger accepted")
	}
}

func TestRegisterAssignsStableLocalIDs(t *testing.T) {
	h := newHarness(t)

	first := h.manager.RegisterMethod(method("Place"))
	second := h.manager.RegisterMethod(method("Cancel"))
	again := h.manager.RegisterMethod(method("Place"))

	if first != 1 || second != 2 {
		t.Fatalf("local ids = %d, %d, want 1, 2", first, second)
	}
	if again != first {
		t.Fatalf("re-registering returned %d, want %d", again, first)
	}
	if h.manager.Pending().Methods != 2 {
		t.Fatalf("pending methods = %d, want 2", h.manager.Pending().Methods)
	}

	sensor := h.manager.RegisterSensorType(ident.SensorTypeDescriptor{Name: "timer", Kind: ident.MethodSensor})
	if sensor != 1 {
		t.Fatalf("sensor type local id = %d, want 1 (separate sequence)", sensor)
	}
}

func TestResolveBeforeRegistrationFails(t *testing.T) {
	h := newHarness(t)
	local := h.manager.RegisterMethod(method("Place"))

	if _, err := h.manager.ResolveMethodID(local); !errors.Is(err, ErrIDNotAvailable) {
		t.Fatalf("ResolveMethodID = %v, want ErrIDNotAvailable", err)
	}
	if _, err := h.manager.ResolveSensorTypeID(7); !errors.Is(err, ErrIDNotAvailable) {
		t.Fatalf("ResolveSensorTypeID(unknown) = %v, want ErrIDNotAvailable", err)
	}
	if _, err := h.manager.ResolvePlatformID(); !errors.Is(err, ErrIDNotAvailable) {
		t.Fatalf("ResolvePlatformID = %v, want ErrIDNotAvailable", err)
	}
	if h.manager.State() != Unregistered {
		t.Fatalf("state = %s, want unregistered", h.manager.State())
	}
}

func TestRunRegistersInOrder(t *testing.T) {
	h := newHarness(t)
	place := h.manager.RegisterMethod(method("Place"))
	cancel := h.manager.RegisterMethod(method("Cancel"))
	timer := h.manager.RegisterSensorType(ident.SensorTypeDescriptor{Name: "timer", Kind: ident.MethodSensor})

	h.start(t)
	h.waitUntil(t, "everything registered", func() bool { return h.manager.Pending().Total() == 0 })

	want := []string{"platform:checkout", "sensor:timer", "method:Place", "method:Cancel"}
	got := h.registrar.snapshot()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	checks := []struct {
		name    string
		resolve func() (ident.RemoteID, error)
		want    ident.RemoteID
	}{
		{"platform", h.manager.ResolvePlatformID, 100},
		{"sensor", func() (ident.RemoteID, error) { return h.manager.ResolveSensorTypeID(timer) }, 101},
		{"place", func() (ident.RemoteID, error) { return h.manager.ResolveMethodID(place) }, 102},
		{"cancel", func() (ident.RemoteID, error) { return h.manager.ResolveMethodID(cancel) }, 103},
	}
	for _, check := range checks {
		for range 2 {
			got, err := check.resolve()
			if err != nil || got != check.want {
				t.Fatalf("%s = %v, %v; want %v", check.name, got, err, check.want)
			}
		}
	}
	if h.manager.State() != Registered {
		t.Fatalf("state = %s, want registered", h.manager.State())
	}
}

func TestRunRetriesAfterIntervalWhenUnavailable(t *testing.T) {
	h := newHarness(t)
	h.registrar.set(func(f *fakeRegistrar) {
		f.platformErr = &remote.ServerUnavailableError{Operation: "register_platform", Err: errors.New("refused")}
	})
	local := h.manager.RegisterMethod(method("Place"))
	h.start(t)

	err := testutil.RequireReceive(t, h.cycles, 5*time.Second, "waiting for the failed cycle")
	if !remote.IsServerUnavailable(err) {
		t.Fatalf("first cycle = %v, want ServerUnavailableError", err)
	}
	if h.manager.State() != Unregistered {
		t.Fatalf("state after failure = %s, want unregistered", h.manager.State())
	}

	h.clock.WaitForTimers(1)
	h.registrar.set(func(f *fakeRegistrar) { f.platformErr = nil })
	h.clock.Advance(9 * time.Second)
	if calls := len(h.registrar.snapshot()); calls != 1 {
		t.Fatalf("calls before the interval elapsed = %d, want 1", calls)
	}
	h.clock.Advance(time.Second)

	h.waitUntil(t, "method registered after recovery", func() bool {
		_, err := h.manager.ResolveMethodID(local)
		return err == nil
	})
}

func TestRejectedMethodIsRetried(t *testing.T) {
	h := newHarness(t)
	h.registrar.set(func(f *fakeRegistrar) {
		f.methodErr = &remote.RejectedError{Operation: "register_method", Message: "storage full"}
	})
	local := h.manager.RegisterMethod(method("Place"))
	h.start(t)

	err := testutil.RequireReceive(t, h.cycles, 5*time.Second, "waiting for the rejected cycle")
	if !remote.IsRejected(err) {
		t.Fatalf("cycle = %v, want RejectedError", err)
	}
	if h.manager.Pending().Methods != 1 {
		t.Fatal("rejected method left the queue")
	}

	h.clock.WaitForTimers(1)
	h.registrar.set(func(f *fakeRegistrar) { f.methodErr = nil })
	h.clock.Advance(10 * time.Second)
	h.waitUntil(t, "method registered after rejection cleared", func() bool {
		_, err := h.manager.ResolveMethodID(local)
		return err == nil
	})
}

func TestResolveDoesNotBlockDuringRegistration(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.registrar.set(func(f *fakeRegistrar) {
		f.platformGate = gate
		f.platformEntered = entered
	})
	h.start(t)
	defer close(gate)

	testutil.RequireReceive(t, entered, 5*time.Second, "waiting for RegisterPlatform")
	if h.manager.State() != Registering {
		t.Fatalf("state = %s, want registering", h.manager.State())
	}
	if _, err := h.manager.ResolvePlatformID(); !errors.Is(err, ErrIDNotAvailable) {
		t.Fatalf("ResolvePlatformID during registration = %v", err)
	}
	if local := h.manager.RegisterMethod(method("Place")); local != 1 {
		t.Fatalf("RegisterMethod during registration = %d", local)
	}
}

func TestNewWorkWakesIdleLoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.waitUntil(t, "platform registered", func() bool { return h.manager.State() == Registered })

	local := h.manager.RegisterMethod(method("Refund"))
	h.waitUntil(t, "late method registered", func() bool {
		_, err := h.manager.ResolveMethodID(local)
		return err == nil
	})
}

func TestMappingsRegisterOnceBothSidesResolve(t *testing.T) {
	h := newHarness(t)
	place := h.manager.RegisterMethod(method("Place"))
	timer := h.manager.RegisterSensorType(ident.SensorTypeDescriptor{Name: "timer", Kind: ident.MethodSensor})
	if err := h.manager.MapSensorTypeToMethod(timer, place); err != nil {
		t.Fatalf("MapSensorTypeToMethod: %v", err)
	}
	if err := h.manager.MapSensorTypeToMethod(timer, place); err != nil {
		t.Fatalf("repeated MapSensorTypeToMethod: %v", err)
	}
	if err := h.manager.MapSensorTypeToMethod(timer, 99); err == nil {
		t.Fatal("mapping to an unknown method accepted")
	}
	if err := h.manager.MapSensorTypeToMethod(99, place); err == nil {
		t.Fatal("mapping from an unknown sensor type accepted")
	}

	h.start(t)
	h.waitUntil(t, "mapping sent", func() bool { return h.manager.Pending().Total() == 0 })

	h.registrar.mu.Lock()
	defer h.registrar.mu.Unlock()
	if len(h.registrar.mappings) != 1 {
		t.Fatalf("mappings sent = %v, want exactly one", h.registrar.mappings)
	}
	if got, want := h.registrar.mappings[0], [3]ident.RemoteID{100, 101, 102}; got != want {
		t.Fatalf("mapping = %v, want %v", got, want)
	}
}

func TestUnregisterPlatformIsTerminal(t *testing.T) {
	h := newHarness(t)
	local := h.manager.RegisterMethod(method("Place"))
	h.start(t)
	h.waitUntil(t, "registered", func() bool { return h.manager.Pending().Total() == 0 })

	h.manager.UnregisterPlatform(context.Background())
	h.manager.UnregisterPlatform(context.Background())

	testutil.RequireClosed(t, h.stopped, 5*time.Second, "loop exit after unregister")
	testutil.RequireClosed(t, h.manager.Done(), time.Second, "Done after unregister")

	if h.manager.State() != Terminated {
		t.Fatalf("state = %s, want terminated", h.manager.State())
	}
	if h.registrar.unregisterCalls != 1 {
		t.Fatalf("unregister calls = %d, want 1", h.registrar.unregisterCalls)
	}
	if _, err := h.manager.ResolveMethodID(local); !errors.Is(err, ErrIDNotAvailable) {
		t.Fatalf("ResolveMethodID after unregister = %v", err)
	}
	if _, err := h.manager.ResolvePlatformID(); !errors.Is(err, ErrIDNotAvailable) {
		t.Fatalf("ResolvePlatformID after unregister = %v", err)
	}

	h.manager.Reregister()
	if h.manager.State() != Terminated {
		t.Fatal("Reregister revived a terminated platform")
	}
}

func TestUnregisterStopsRegistrationInFlight(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"A", "B", "C", "D"} {
		h.manager.RegisterMethod(method(name))
	}
	methodGate := make(chan struct{})
	methodEntered := make(chan struct{}, 1)
	unregisterGate := make(chan struct{})
	unregisterEntered := make(chan struct{}, 1)
	h.registrar.set(func(f *fakeRegistrar) {
		f.methodGate = methodGate
		f.methodEntered = methodEntered
		f.unregisterGate = unregisterGate
		f.unregisterEntered = unregisterEntered
	})
	h.start(t)
	testutil.RequireReceive(t, methodEntered, 5*time.Second, "waiting for the first RegisterMethod")

	unregistered := make(chan struct{})
	go func() {
		defer close(unregistered)
		h.manager.UnregisterPlatform(context.Background())
	}()
	testutil.RequireReceive(t, unregisterEntered, 5*time.Second, "waiting for the remote unregister")

	close(methodGate)
	err := testutil.RequireReceive(t, h.cycles, 5*time.Second, "waiting for the cycle to end")
	if !errors.Is(err, errSuperseded) {
		t.Fatalf("cycle error = %v, want errSuperseded", err)
	}
	close(unregisterGate)
	testutil.RequireClosed(t, unregistered, 5*time.Second, "waiting for UnregisterPlatform")
	testutil.RequireClosed(t, h.stopped, 5*time.Second, "loop exit after unregister")

	var methods []string
	for _, call := range h.registrar.snapshot() {
		if strings.HasPrefix(call, "method:") {
			methods = append(methods, call)
		}
	}
	if fmt.Sprint(methods) != "[method:A]" {
		t.Fatalf("methods registered = %v, want only the one in flight", methods)
	}
}

func TestUnregisterReleasesLatePlatformID(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.registrar.set(func(f *fakeRegistrar) {
		f.platformGate = gate
		f.platformEntered = entered
	})
	h.start(t)
	testutil.RequireReceive(t, entered, 5*time.Second, "waiting for RegisterPlatform")

	h.manager.UnregisterPlatform(context.Background())
	if h.manager.State() != Terminated {
		t.Fatalf("state = %s, want terminated", h.manager.State())
	}
	close(gate)
	testutil.RequireClosed(t, h.stopped, 5*time.Second, "loop exit after unregister")

	h.registrar.mu.Lock()
	defer h.registrar.mu.Unlock()
	if fmt.Sprint(h.registrar.unregistered) != "[100]" {
		t.Fatalf("unregistered = %v, want the id assigned after shutdown began", h.registrar.unregistered)
	}
}

func TestUnregisterSwallowsFailure(t *testing.T) {
	h := newHarness(t)
	h.registrar.set(func(f *fakeRegistrar) {
		f.unregisterErr = &remote.ServerUnavailableError{Operation: "unregister_platform", Err: errors.New("gone")}
	})
	h.start(t)
	h.waitUntil(t, "registered", func() bool { return h.manager.State() == Registered })

	h.manager.UnregisterPlatform(context.Background())
	if h.manager.State() != Terminated {
		t.Fatalf("state = %s, want terminated", h.manager.State())
	}
}

func TestUnregisterBeforeRegistrationSkipsRemoteCall(t *testing.T) {
	h := newHarness(t)
	h.manager.UnregisterPlatform(context.Background())

	if h.registrar.unregisterCalls != 0 {
		t.Fatalf("unregister calls = %d, want 0", h.registrar.unregisterCalls)
	}
	if err := h.manager.Run(context.Background()); err != nil {
		t.Fatalf("Run after unregister = %v", err)
	}
	if calls := h.registrar.snapshot(); len(calls) != 0 {
		t.Fatalf("Run registered after unregister: %v", calls)
	}
}

func TestReregisterRequeuesEverything(t *testing.T) {
	h := newHarness(t)
	place := h.manager.RegisterMethod(method("Place"))
	h.start(t)
	h.waitUntil(t, "registered", func() bool { return h.manager.Pending().Total() == 0 })

	before, _ := h.manager.ResolveMethodID(place)
	h.manager.Reregister()

	h.waitUntil(t, "registered again", func() bool {
		after, err := h.manager.ResolveMethodID(place)
		return err == nil && after != before
	})
	if platform, _ := h.manager.ResolvePlatformID(); platform != 102 {
		t.Fatalf("platform id after reregister = %v, want 102", platform)
	}
}

func TestConcurrentRegistrationIsConsistent(t *testing.T) {
	h := newHarness(t)

	const workers = 8
	const methods = 50
	results := make([][]ident.LocalID, workers)
	var group sync.WaitGroup
	for worker := range workers {
		group.Add(1)
		go func() {
			defer group.Done()
			for index := range methods {
				results[worker] = append(results[worker], h.manager.RegisterMethod(method(fmt.Sprintf("m%d", index))))
			}
		}()
	}
	group.Wait()

	for worker := 1; worker < workers; worker++ {
		for index := range methods {
			if results[worker][index] != results[0][index] {
				t.Fatalf("worker %d got %v for m%d, worker 0 got %v", worker, results[worker][index], index, results[0][index])
			}
		}
	}
	if pending := h.manager.Pending().Methods; pending != methods {
		t.Fatalf("pending = %d, want %d", pending, methods)
	}
}
