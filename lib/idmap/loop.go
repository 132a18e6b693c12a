// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idmap

import (
	"context"
	"errors"
	"slices"

	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/remote"
)

// errSuperseded ends a cycle whose results were invalidated by
// Reregister or UnregisterPlatform while a remote call was running.
var errSuperseded = errors.New("idmap: registration superseded")

// Run is the registration loop. It registers the platform, then queued
// sensor types, methods and mappings, and sleeps until new work is
// queued. After a failed cycle it waits the configured interval. Run
// returns nil when the platform is Terminated or ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	outage := false
	for {
		select {
		case <-m.done:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		err := m.cycle(ctx)
		if m.afterCycle != nil {
			m.afterCycle(err)
		}

		switch {
		case err == nil:
			if outage {
				m.logger.Info("collector reachable again, registration resumed")
				outage = false
			}
		case errors.Is(err, errSuperseded):
			if state := m.State(); state == Unregistering || state == Terminated {
				select {
				case <-m.done:
				case <-ctx.Done():
				}
				return nil
			}
			continue
		case remote.IsRejected(err):
			m.logger.Error("collector rejected registration, retrying later",
				"error", err,
				"retry_in", m.interval,
			)
		case !outage:
			outage = true
			m.logger.Warn("collector unavailable for registration, retrying on interval",
				"error", err,
				"retry_in", m.interval,
			)
		default:
			m.logger.Debug("registration still failing", "error", err)
		}

		if err != nil {
			select {
			case <-m.clock.After(m.interval):
			case <-m.done:
				return nil
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if m.Pending().Total() > 0 {
			continue
		}
		select {
		case <-m.wake:
		case <-m.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// cycle performs one pass of registration work. Mappings that still
// lack a remote id on either side stay queued.
func (m *Manager) cycle(ctx context.Context) error {
	platformID, generation, err := m.ensurePlatform(ctx)
	if err != nil {
		return err
	}

	if err := drain(ctx, m, generation, &m.sensorTypes, func(descriptor ident.SensorTypeDescriptor) (ident.RemoteID, error) {
		return m.registrar.RegisterSensorType(ctx, platformID, descriptor)
	}); err != nil {
		return err
	}
	if err := drain(ctx, m, generation, &m.methods, func(descriptor ident.MethodDescriptor) (ident.RemoteID, error) {
		return m.registrar.RegisterMethod(ctx, platformID, descriptor)
	}); err != nil {
		return err
	}
	return m.drainMappings(ctx, platformID, generation)
}

// ensurePlatform registers the platform if needed and returns its id
// together with the generation the id belongs to.
func (m *Manager) ensurePlatform(ctx context.Context) (ident.RemoteID, uint64, error) {
	m.mu.Lock()
	switch m.state {
	case Registered:
		defer m.mu.Unlock()
		return m.platformID, m.generation, nil
	case Unregistering, Terminated:
		m.mu.Unlock()
		return 0, 0, errSuperseded
	}
	m.setStateLocked(Registering)
	generation := m.generation
	m.mu.Unlock()

	platformID, err := m.registrar.RegisterPlatform(ctx, m.platform)

	m.mu.Lock()
	if m.generation != generation || m.state != Registering {
		leaving := m.state == Unregistering || m.state == Terminated
		m.mu.Unlock()
		if leaving && err == nil && platformID.Known() {
			m.unregisterOrphan(ctx, platformID)
		}
		return 0, 0, errSuperseded
	}
	defer m.mu.Unlock()
	if err != nil {
		m.setStateLocked(Unregistered)
		return 0, 0, err
	}
	if !platformID.Known() {
		m.setStateLocked(Unregistered)
		return 0, 0, &remote.RejectedError{Operation: "register_platform", Message: "collector assigned no id"}
	}
	m.platformID = platformID
	m.setStateLocked(Registered)
	m.logger.Info("platform registered",
		"platform_id", platformID,
		"agent", m.platform.AgentName,
		"host", m.platform.Hostname,
	)
	return platformID, generation, nil
}

// unregisterOrphan releases a platform id the collector assigned after
// UnregisterPlatform had already run. ctx is usually cancelled by then,
// so the call gets its own deadline of one registration interval.
func (m *Manager) unregisterOrphan(ctx context.Context, platformID ident.RemoteID) {
	unregisterContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.interval) //nolint:realclock // deadline for a network call
	defer cancel()
	if err := m.registrar.UnregisterPlatform(unregisterContext, platformID); err != nil {
		m.logger.Warn("unregistering late platform id failed", "platform_id", platformID, "error", err)
		return
	}
	m.logger.Info("platform unregistered", "platform_id", platformID)
}

// drain registers the pending entries of one table in FIFO order.
func drain[D any](ctx context.Context, m *Manager, generation uint64, entries *table[D], register func(D) (ident.RemoteID, error)) error {
	for {
		m.mu.RLock()
		if m.generation != generation {
			m.mu.RUnlock()
			return errSuperseded
		}
		local, descriptor, ok := entries.head()
		m.mu.RUnlock()
		if !ok {
			return nil
		}

		remoteID, err := register(descriptor)
		if err != nil {
			return err
		}
		if !remoteID.Known() {
			return &remote.RejectedError{Operation: "register", Message: "collector assigned no id"}
		}

		m.mu.Lock()
		if m.generation != generation {
			m.mu.Unlock()
			return errSuperseded
		}
		entries.complete(local, remoteID)
		m.publishPendingLocked()
		m.mu.Unlock()
	}
}

func (m *Manager) drainMappings(ctx context.Context, platformID ident.RemoteID, generation uint64) error {
	m.mu.RLock()
	queued := slices.Clone(m.mappings)
	m.mu.RUnlock()

	for _, entry := range queued {
		m.mu.RLock()
		if m.generation != generation {
			m.mu.RUnlock()
			return errSuperseded
		}
		sensorTypeID, sensorOK := m.sensorTypes.resolve(entry.sensorType)
		methodID, methodOK := m.methods.resolve(entry.method)
		m.mu.RUnlock()
		if !sensorOK || !methodOK {
			continue
		}

		if err := m.registrar.MapSensorTypeToMethod(ctx, platformID, sensorTypeID, methodID); err != nil {
			return err
		}

		m.mu.Lock()
		if m.generation != generation {
			m.mu.Unlock()
			return errSuperseded
		}
		m.mapped[entry] = true
		m.mappings = slices.DeleteFunc(m.mappings, func(candidate mapping) bool { return candidate == entry })
		m.publishPendingLocked()
		m.mu.Unlock()
	}
	return nil
}

func sortMappings(entries []mapping) {
	slices.SortFunc(entries, func(a, b mapping) int {
		if a.sensorType != b.sensorType {
			return int(a.sensorType) - int(b.sensorType)
		}
		return int(a.method) - int(b.method)
	})
}
