// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idmap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/tracehook/lib/agentmetrics"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/ident"
)

const (
	kindPlatform   = "platform"
	kindMethod     = "method"
	kindSensorType = "sensor type"
	kindMapping    = "mapping"
)

// DefaultInterval is the wait between registration cycles after the
// collector was unavailable.
const DefaultInterval = 10 * time.Second

// Registrar performs the remote half of registration. Errors are
// expected to be *remote.ServerUnavailableError or
// *remote.RejectedError.
type Registrar interface {
	RegisterPlatform(ctx context.Context, platform ident.PlatformDescriptor) (ident.RemoteID, error)
	RegisterMethod(ctx context.Context, platform ident.RemoteID, method ident.MethodDescriptor) (ident.RemoteID, error)
	RegisterSensorType(ctx context.Context, platform ident.RemoteID, sensorType ident.SensorTypeDescriptor) (ident.RemoteID, error)
	MapSensorTypeToMethod(ctx context.Context, platform, sensorType, method ident.RemoteID) error
	UnregisterPlatform(ctx context.Context, platform ident.RemoteID) error
}

// Config configures a Manager.
type Config struct {
	Registrar Registrar
	Platform  ident.PlatformDescriptor
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *agentmetrics.Metrics

	// Interval is the fixed wait after a failed registration cycle.
	// Defaults to DefaultInterval.
	Interval time.Duration
}

type mapping struct {
	sensorType ident.LocalID
	method     ident.LocalID
}

// Manager owns the local to remote id mapping. Lookups and
// registrations are safe from any goroutine; the mutex guards only the
// tables, never a remote call.
type Manager struct {
	registrar Registrar
	platform  ident.PlatformDescriptor
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *agentmetrics.Metrics

	mu          sync.RWMutex
	state       State
	platformID  ident.RemoteID
	generation  uint64
	methods     table[ident.MethodDescriptor]
	sensorTypes table[ident.SensorTypeDescriptor]
	mappings    []mapping
	mapped      map[mapping]bool // true once registered remotely

	wake chan struct{}
	done chan struct{}

	// afterCycle, when set by tests, observes every cycle result.
	afterCycle func(error)
}

// New returns a Manager in the Unregistered state. Nothing is sent to
// the collector until Run is called.
func New(config Config) (*Manager, error) {
	if config.Registrar == nil {
		return nil, fmt.Errorf("id manager: Registrar is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("id manager: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("id manager: Logger is required")
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		registrar:   config.Registrar,
		platform:    config.Platform,
		interval:    interval,
		clock:       config.Clock,
		logger:      config.Logger,
		metrics:     config.Metrics,
		methods:     newTable[ident.MethodDescriptor](),
		sensorTypes: newTable[ident.SensorTypeDescriptor](),
		mapped:      make(map[mapping]bool),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// RegisterMethod returns the LocalID for method, queueing it for
// registration the first time it is seen.
func (m *Manager) RegisterMethod(method ident.MethodDescriptor) ident.LocalID {
	m.mu.Lock()
	local, added := m.methods.add(method.Fingerprint(), method)
	if added && m.state != Terminated {
		m.publishPendingLocked()
	}
	m.mu.Unlock()
	if added {
		m.signal()
	}
	return local
}

// RegisterSensorType returns the LocalID for sensorType, queueing it
// for registration the first time it is seen.
func (m *Manager) RegisterSensorType(sensorType ident.SensorTypeDescriptor) ident.LocalID {
	m.mu.Lock()
	local, added := m.sensorTypes.add(sensorType.Fingerprint(), sensorType)
	if added && m.state != Terminated {
		m.publishPendingLocked()
	}
	m.mu.Unlock()
	if added {
		m.signal()
	}
	return local
}

// MapSensorTypeToMethod records that a sensor type instruments a
// method. The collector is told once both sides are registered.
func (m *Manager) MapSensorTypeToMethod(sensorType, method ident.LocalID) error {
	m.mu.Lock()
	if !m.sensorTypes.known(sensorType) {
		m.mu.Unlock()
		return fmt.Errorf("idmap: sensor type %s was never registered", sensorType)
	}
	if !m.methods.known(method) {
		m.mu.Unlock()
		return fmt.Errorf("idmap: method %s was never registered", method)
	}
	entry := mapping{sensorType: sensorType, method: method}
	_, seen := m.mapped[entry]
	if !seen {
		m.mapped[entry] = false
		m.mappings = append(m.mappings, entry)
		m.publishPendingLocked()
	}
	m.mu.Unlock()
	if !seen {
		m.signal()
	}
	return nil
}

// ResolvePlatformID returns the platform's RemoteID without blocking.
func (m *Manager) ResolvePlatformID() (ident.RemoteID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Registered {
		return 0, &IDNotAvailableError{Kind: kindPlatform}
	}
	return m.platformID, nil
}

// ResolveMethodID returns the RemoteID for a method without blocking.
func (m *Manager) ResolveMethodID(local ident.LocalID) (ident.RemoteID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remote, ok := m.methods.resolve(local); ok {
		return remote, nil
	}
	return 0, &IDNotAvailableError{Kind: kindMethod, Local: local}
}

// ResolveSensorTypeID returns the RemoteID for a sensor type without
// blocking.
func (m *Manager) ResolveSensorTypeID(local ident.LocalID) (ident.RemoteID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remote, ok := m.sensorTypes.resolve(local); ok {
		return remote, nil
	}
	return 0, &IDNotAvailableError{Kind: kindSensorType, Local: local}
}

// State returns the platform registration state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// PendingCounts is the amount of queued registration work.
type PendingCounts struct {
	Methods     int
	SensorTypes int
	Mappings    int
}

// Total sums all kinds.
func (p PendingCounts) Total() int { return p.Methods + p.SensorTypes + p.Mappings }

// Pending reports queued registration work.
func (m *Manager) Pending() PendingCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingLocked()
}

func (m *Manager) pendingLocked() PendingCounts {
	return PendingCounts{
		Methods:     len(m.methods.pending),
		SensorTypes: len(m.sensorTypes.pending),
		Mappings:    len(m.mappings),
	}
}

// Done is closed once the platform is Terminated.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Reregister discards every remote id and queues the platform and all
// known descriptors for registration again, in their original order.
// It is used when the collector no longer recognises the platform. No
// effect once unregistering has begun.
func (m *Manager) Reregister() {
	m.mu.Lock()
	if m.state == Unregistering || m.state == Terminated {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.setStateLocked(Unregistered)
	m.platformID = 0
	m.methods.forget(true)
	m.sensorTypes.forget(true)
	m.mappings = m.mappings[:0]
	for entry := range m.mapped {
		m.mapped[entry] = false
	}
	m.mappings = append(m.mappings, m.orderedMappingsLocked()...)
	m.publishPendingLocked()
	m.mu.Unlock()

	m.logger.Info("platform registration reset, registering again")
	m.signal()
}

// UnregisterPlatform tells the collector that the agent is going away
// and moves to the terminal state. Remote failures are logged and
// swallowed. Safe to call more than once and from any goroutine.
func (m *Manager) UnregisterPlatform(ctx context.Context) {
	m.mu.Lock()
	if m.state == Unregistering || m.state == Terminated {
		m.mu.Unlock()
		return
	}
	platformID := m.platformID
	wasRegistered := m.state == Registered
	m.generation++
	m.setStateLocked(Unregistering)
	m.mu.Unlock()

	if wasRegistered {
		if err := m.registrar.UnregisterPlatform(ctx, platformID); err != nil {
			m.logger.Warn("unregistering platform failed", "platform_id", platformID, "error", err)
		} else {
			m.logger.Info("platform unregistered", "platform_id", platformID)
		}
	}

	m.mu.Lock()
	m.generation++
	m.platformID = 0
	m.methods.forget(false)
	m.sensorTypes.forget(false)
	m.mappings = nil
	clear(m.mapped)
	m.setStateLocked(Terminated)
	m.publishPendingLocked()
	close(m.done)
	m.mu.Unlock()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) setStateLocked(state State) {
	m.state = state
	m.metrics.SetPlatformState(int(state))
}

func (m *Manager) publishPendingLocked() {
	pending := m.pendingLocked()
	m.metrics.SetPending(kindMethod, pending.Methods)
	m.metrics.SetPending(kindSensorType, pending.SensorTypes)
	m.metrics.SetPending(kindMapping, pending.Mappings)
}

// orderedMappingsLocked returns every known mapping ordered by sensor
// type then method, for deterministic re-registration.
func (m *Manager) orderedMappingsLocked() []mapping {
	entries := make([]mapping, 0, len(m.mapped))
	for entry := range m.mapped {
		entries = append(entries, entry)
	}
	sortMappings(entries)
	return entries
}
