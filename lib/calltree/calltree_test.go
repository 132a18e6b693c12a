// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package calltree

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
	"github.com/bureau-foundation/tracehook/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var errNotRegistered = errors.New("not registered")

// fakeResolver maps local id n to remote id 1000+n. Locals listed in
// missing do not resolve.
type fakeResolver struct {
	mu       sync.Mutex
	platform bool
	missing  map[ident.LocalID]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{platform: true, missing: map[ident.LocalID]bool{}}
}

func (f *fakeResolver) ResolvePlatformID() (ident.RemoteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.platform {
		return 0, errNotRegistered
	}
	return 7, nil
}

func (f *fakeResolver) ResolveMethodID(local ident.LocalID) (ident.RemoteID, error) {
	return f.resolve(local)
}

func (f *fakeResolver) ResolveSensorTypeID(local ident.LocalID) (ident.RemoteID, error) {
	return f.resolve(local)
}

func (f *fakeResolver) resolve(local ident.LocalID) (ident.RemoteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[local] {
		return 0, errNotRegistered
	}
	return ident.RemoteID(1000 + int64(local)), nil
}

type sinkFunc func(measure.Item)

func (f sinkFunc) Add(item measure.Item) { f(item) }

type collectingSink struct {
	mu    sync.Mutex
	items []measure.Item
}

func (c *collectingSink) Add(item measure.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

func (c *collectingSink) trees(t *testing.T) []measure.InvocationData {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var trees []measure.InvocationData
	for _, item := range c.items {
		if item.Kind != measure.KindInvocation || item.Invocation == nil {
			t.Fatalf("unexpected item %+v", item)
		}
		trees = append(trees, *item.Invocation)
	}
	return trees
}

func newTestRuntime(t *testing.T, sink Sink, minimum time.Duration) (*Runtime, *clock.FakeClock, *fakeResolver) {
	t.Helper()
	fakeClock := clock.Fake(epoch)
	resolver := newFakeResolver()
	runtime, err := New(Config{
		Resolver:    resolver,
		Sink:        sink,
		Clock:       fakeClock,
		Logger:      testutil.Logger(),
		MinDuration: minimum,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return runtime, fakeClock, resolver
}

func TestNewValidation(t *testing.T) {
	valid := Config{
		Resolver: newFakeResolver(),
		Sink:     &collectingSink{},
		Clock:    clock.Fake(epoch),
		Logger:   testutil.Logger(),
	}
	mutations := map[string]func(*Config){
		"resolver": func(c *Config) { c.Resolver = nil },
		"sink":     func(c *Config) { c.Sink = nil },
		"clock":    func(c *Config) { c.Clock = nil },
		"logger":   func(c *Config) { c.Logger = nil },
		"negative": func(c *Config) { c.MinDuration = -time.Second },
	}
	for name, mutate := range mutations {
		config := valid
		mutate(&config)
		if _, err := New(config); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
	if _, err := New(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestNestedCallDurations(t *testing.T) {
	sink := &collectingSink{}
	runtime, fakeClock, _ := newTestRuntime(t, sink, 0)
	stack := runtime.NewStack()

	stack.Enter(1, 1)
	fakeClock.Advance(20 * time.Millisecond)
	stack.Enter(2, 1)
	fakeClock.Advance(40 * time.Millisecond)
	stack.Exit()
	fakeClock.Advance(40 * time.Millisecond)
	stack.Exit()

	trees := sink.trees(t)
	if len(trees) != 1 {
		t.Fatalf("dispatched %d trees, want 1", len(trees))
	}
	root := trees[0]
	if root.MethodID != 1001 || root.SensorTypeID != 1001 {
		t.Errorf("root ids = %v/%v, want 1001/1001", root.MethodID, root.SensorTypeID)
	}
	if root.Duration != 100*time.Millisecond {
		t.Errorf("root duration = %v, want 100ms", root.Duration)
	}
	if root.ChildCount != 1 || len(root.Children) != 1 {
		t.Fatalf("root child count = %d with %d children, want 1", root.ChildCount, len(root.Children))
	}
	child := root.Children[0]
	if child.MethodID != 1002 || child.Duration != 40*time.Millisecond || child.ChildCount != 0 {
		t.Errorf("child = method %v duration %v children %d", child.MethodID, child.Duration, child.ChildCount)
	}
	if stack.Depth() != 0 {
		t.Errorf("depth after root exit = %d", stack.Depth())
	}

	sink.mu.Lock()
	item := sink.items[0]
	sink.mu.Unlock()
	if item.PlatformID != 7 || item.MethodID != 1001 || !item.Timestamp.Equal(epoch) {
		t.Errorf("item = platform %v method %v at %v", item.PlatformID, item.MethodID, item.Timestamp)
	}
}

func TestBalancedSequencesBuildConsistentTrees(t *testing.T) {
	random := rand.New(rand.NewPCG(1, 2))
	for round := range 50 {
		sink := &collectingSink{}
		runtime, fakeClock, _ := newTestRuntime(t, sink, 0)
		stack := runtime.NewStack()

		enters := 0
		stack.Enter(1, 1)
		enters++
		for stack.Depth() > 0 {
			fakeClock.Advance(time.Duration(random.IntN(5)) * time.Millisecond)
			if stack.Depth() < 6 && random.IntN(3) > 0 && enters < 40 {
				stack.Enter(ident.LocalID(random.IntN(9)+1), 1)
				enters++
			} else {
				stack.Exit()
			}
		}

		trees := sink.trees(t)
		if len(trees) != 1 {
			t.Fatalf("round %d: dispatched %d trees", round, len(trees))
		}
		if got := trees[0].NodeCount(); got != enters {
			t.Fatalf("round %d: %d nodes for %d enters", round, got, enters)
		}
		trees[0].Walk(func(depth int, node *measure.InvocationData) {
			if node.ChildCount != len(node.Children) {
				t.Fatalf("round %d: child count %d, children %d", round, node.ChildCount, len(node.Children))
			}
			var sum time.Duration
			for _, child := range node.Children {
				sum += child.Duration
			}
			if sum > node.Duration {
				t.Fatalf("round %d: children ran %v inside a %v parent", round, sum, node.Duration)
			}
		})
	}
}

func TestMinimumDurationFiltersRootOnly(t *testing.T) {
	tests := []struct {
		name      string
		duration  time.Duration
		delivered bool
	}{
		{"below", 49 * time.Millisecond, false},
		{"at", 50 * time.Millisecond, true},
		{"above", 80 * time.Millisecond, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sink := &collectingSink{}
			runtime, fakeClock, _ := newTestRuntime(t, sink, 50*time.Millisecond)
			stack := runtime.NewStack()

			stack.Enter(1, 1)
			stack.Enter(2, 1)
			fakeClock.Advance(time.Millisecond)
			stack.Exit()
			fakeClock.Advance(test.duration - time.Millisecond)
			stack.Exit()

			trees := sink.trees(t)
			if delivered := len(trees) == 1; delivered != test.delivered {
				t.Fatalf("delivered = %v, want %v", delivered, test.delivered)
			}
			if test.delivered && len(trees[0].Children) != 1 {
				t.Fatal("short child below the minimum was pruned")
			}
		})
	}
}

func TestPerMethodMinimumDuration(t *testing.T) {
	sink := &collectingSink{}
	runtime, fakeClock, _ := newTestRuntime(t, sink, time.Second)
	runtime.SetMinDuration(2, 0)
	stack := runtime.NewStack()

	for _, method := range []ident.LocalID{1, 2} {
		stack.Enter(method, 1)
		fakeClock.Advance(10 * time.Millisecond)
		stack.Exit()
	}

	trees := sink.trees(t)
	if len(trees) != 1 || trees[0].MethodID != 1002 {
		t.Fatalf("trees = %+v, want only the method with an override", trees)
	}
}

func TestAttachReplacesSameKey(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, _ := newTestRuntime(t, sink, 0)
	stack := runtime.NewStack()

	if stack.Attach(3, "", measure.Log{Message: "orphan"}) {
		t.Fatal("Attach succeeded with no open call")
	}

	stack.Enter(1, 1)
	stack.Attach(3, "q1", measure.SQL{Statement: "select 1"})
	stack.Attach(3, "q2", measure.SQL{Statement: "select 2"})
	stack.Attach(3, "q1", measure.SQL{Statement: "select 1 -- again"})
	stack.Attach(4, "", measure.Timer{Count: 1})
	stack.Exit()

	attachments := sink.trees(t)[0].Attachments
	if len(attachments) != 3 {
		t.Fatalf("attachments = %+v, want 3", attachments)
	}
	if attachments[0].SQL == nil || attachments[0].SQL.Statement != "select 1 -- again" {
		t.Errorf("first attachment = %+v, want the replacement in place", attachments[0])
	}
	if attachments[1].Discriminator != "q2" || attachments[2].SensorTypeID != 1004 {
		t.Errorf("attachments out of order: %+v", attachments)
	}
}

func TestRecordOutsideCallSendsStandaloneItem(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, _ := newTestRuntime(t, sink, 0)

	ctx, stack := runtime.Begin(context.Background())
	runtime.Record(ctx, 5, 0, "", measure.Gauge{Name: "goroutines", Value: 12})

	stack.Enter(1, 1)
	runtime.Record(ctx, 3, 1, "", measure.Log{Level: "INFO", Message: "inside"})
	stack.Exit()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.items) != 2 {
		t.Fatalf("items = %d, want standalone gauge and one tree", len(sink.items))
	}
	gauge := sink.items[0]
	if gauge.Kind != measure.KindGauge || gauge.SensorTypeID != 1005 || gauge.MethodID != 0 {
		t.Errorf("standalone item = %+v", gauge)
	}
	tree := sink.items[1].Invocation
	if tree == nil || len(tree.Attachments) != 1 || tree.Attachments[0].Log == nil {
		t.Errorf("log was not attached to the open call: %+v", sink.items[1])
	}
}

func TestSendDropsUnresolved(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, resolver := newTestRuntime(t, sink, 0)
	resolver.missing[5] = true

	runtime.Send(5, 0, measure.Gauge{Name: "heap"})
	if len(sink.items) != 0 {
		t.Fatal("measurement with an unresolved sensor type was sent")
	}
}

func TestUnresolvedTreeIsDropped(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, resolver := newTestRuntime(t, sink, 0)
	resolver.missing[2] = true
	stack := runtime.NewStack()

	stack.Enter(1, 1)
	stack.Enter(2, 1)
	stack.Exit()
	stack.Exit()

	if len(sink.trees(t)) != 0 {
		t.Fatal("tree with an unregistered method was dispatched")
	}

	resolver.mu.Lock()
	resolver.platform = false
	delete(resolver.missing, 2)
	resolver.mu.Unlock()
	stack.Enter(1, 1)
	stack.Exit()
	if len(sink.trees(t)) != 0 {
		t.Fatal("tree dispatched before the platform was registered")
	}
}

func TestUnderflowResetsStack(t *testing.T) {
	sink := &collectingSink{}
	runtime, fakeClock, _ := newTestRuntime(t, sink, 0)
	stack := runtime.NewStack()

	stack.Exit()
	if stack.Depth() != 0 {
		t.Fatalf("depth after underflow = %d", stack.Depth())
	}

	stack.Enter(1, 1)
	fakeClock.Advance(time.Millisecond)
	stack.Exit()
	if len(sink.trees(t)) != 1 {
		t.Fatal("stack unusable after underflow")
	}
}

func TestPrunableCallsWithoutPayloadsAreRemoved(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, _ := newTestRuntime(t, sink, 0)
	stack := runtime.NewStack()

	stack.Enter(1, 1)
	stack.Enter(2, 1, Prunable()) // pruned, children move up
	stack.Enter(3, 1)
	stack.Exit()
	stack.Enter(4, 1)
	stack.Exit()
	stack.Exit()
	stack.Enter(5, 1, Prunable()) // kept, it has a payload
	stack.Attach(9, "", measure.SQL{Statement: "update"})
	stack.Exit()
	stack.Exit()

	root := sink.trees(t)[0]
	var methods []ident.RemoteID
	for _, child := range root.Children {
		methods = append(methods, child.MethodID)
	}
	want := []ident.RemoteID{1003, 1004, 1005}
	if len(methods) != len(want) {
		t.Fatalf("root children = %v, want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Fatalf("root children = %v, want %v", methods, want)
		}
	}
	if root.ChildCount != 3 {
		t.Fatalf("root child count = %d, want 3", root.ChildCount)
	}
}

func TestPrunableRootIsKept(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, _ := newTestRuntime(t, sink, 0)
	stack := runtime.NewStack()

	stack.Enter(1, 1, Prunable())
	stack.Exit()
	if len(sink.trees(t)) != 1 {
		t.Fatal("prunable root was not dispatched")
	}
}

func TestHooksFromInsideSinkAreIgnored(t *testing.T) {
	var stack *Stack
	var delivered []measure.Item
	sink := sinkFunc(func(item measure.Item) {
		delivered = append(delivered, item)
		// The sink itself runs instrumented code on the same goroutine.
		stack.Enter(8, 1)
		stack.Attach(3, "", measure.Log{Message: "reentrant"})
		stack.Exit()
	})
	runtime, _, _ := newTestRuntime(t, sink, 0)
	stack = runtime.NewStack()

	stack.Enter(1, 1)
	stack.Exit()
	stack.Enter(2, 1)
	stack.Exit()

	if len(delivered) != 2 {
		t.Fatalf("delivered %d trees, want 2", len(delivered))
	}
	if delivered[1].Invocation.NodeCount() != 1 {
		t.Fatal("reentrant hook calls leaked into the next tree")
	}
}

func TestPanickingSinkDoesNotEscape(t *testing.T) {
	calls := 0
	sink := sinkFunc(func(measure.Item) {
		calls++
		if calls == 1 {
			panic("sink exploded")
		}
	})
	runtime, _, _ := newTestRuntime(t, sink, 0)
	stack := runtime.NewStack()

	stack.Enter(1, 1)
	stack.Exit()

	stack.Enter(1, 1)
	stack.Exit()
	if calls != 2 {
		t.Fatalf("sink calls = %d, want 2 (stack recovered)", calls)
	}
}

func TestBeginReusesStack(t *testing.T) {
	runtime, _, _ := newTestRuntime(t, &collectingSink{}, 0)
	if StackFrom(context.Background()) != nil {
		t.Fatal("empty context carries a stack")
	}

	ctx, first := runtime.Begin(context.Background())
	nested, second := runtime.Begin(context.WithValue(ctx, struct{}{}, "x"))
	if first != second || StackFrom(nested) != first {
		t.Fatal("Begin created a second stack for the same goroutine context")
	}

	other, _, _ := newTestRuntime(t, &collectingSink{}, 0)
	_, foreign := other.Begin(ctx)
	if foreign == first {
		t.Fatal("a different runtime reused the stack")
	}
}

func TestGoroutinesBuildIndependentTrees(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, _ := newTestRuntime(t, sink, 0)

	const workers = 8
	var group sync.WaitGroup
	for worker := range workers {
		group.Add(1)
		go func() {
			defer group.Done()
			_, stack := runtime.Begin(context.Background())
			method := ident.LocalID(worker + 1)
			stack.Enter(method, 1)
			for range 10 {
				stack.Enter(method, 1)
				stack.Exit()
			}
			stack.Exit()
		}()
	}
	group.Wait()

	trees := sink.trees(t)
	if len(trees) != workers {
		t.Fatalf("trees = %d, want %d", len(trees), workers)
	}
	for _, tree := range trees {
		if tree.NodeCount() != 11 {
			t.Fatalf("tree for %v has %d nodes, want 11", tree.MethodID, tree.NodeCount())
		}
		for _, child := range tree.Children {
			if child.MethodID != tree.MethodID {
				t.Fatalf("tree for %v contains a call from %v", tree.MethodID, child.MethodID)
			}
		}
	}
}

func TestSampleCarriesKey(t *testing.T) {
	sink := &collectingSink{}
	runtime, _, _ := newTestRuntime(t, sink, 0)

	runtime.Sample(6, "go.goroutines", measure.Gauge{Name: "go.goroutines", Value: 4})
	if len(sink.items) != 1 || sink.items[0].Key != "go.goroutines" || sink.items[0].MethodID != 0 {
		t.Fatalf("items = %+v", sink.items)
	}
}
