// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/tracehook/lib/collector"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("agent: already running")

// Run drives the agent until ctx is cancelled or one of its loops
// fails. On the way out it waits for the dispatcher's final flush,
// unregisters the platform, and closes the transport.
func (a *Agent) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(a.done)

	a.logger.Info("agent starting",
		"agent_name", a.settings.AgentName,
		"transport", a.settings.Collector.Transport,
		"samplers", len(a.samplers),
	)

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error { return a.ids.Run(groupContext) })
	group.Go(func() error {
		a.dispatcher.Run(groupContext)
		return nil
	})
	group.Go(func() error {
		a.keepAlive(groupContext)
		return nil
	})
	group.Go(func() error {
		a.sample(groupContext)
		return nil
	})
	runErr := group.Wait()

	// The final flush needs the platform id, so unregistering waits
	// for the dispatcher.
	unregisterContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.settings.Dispatch.ShutdownTimeout) //nolint:realclock // shutdown deadline for a network call
	a.ids.UnregisterPlatform(unregisterContext)
	cancel()

	if err := a.transport.Close(); err != nil {
		a.logger.Warn("closing collector transport failed", "error", err)
	}
	a.logger.Info("agent stopped", "dropped_items", a.dispatcher.Dropped())
	return runErr
}

func (a *Agent) keepAlive(ctx context.Context) {
	ticker := a.clock.NewTicker(a.settings.Registration.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		platformID, err := a.ids.ResolvePlatformID()
		if err != nil {
			continue
		}
		err = a.client.KeepAlive(ctx, platformID)
		switch {
		case err == nil:
		case collector.IsUnknownPlatform(err):
			a.logger.Warn("collector no longer knows the platform, registering again", "platform_id", platformID)
			a.ids.Reregister()
		case ctx.Err() != nil:
			return
		default:
			a.logger.Debug("keep-alive failed", "platform_id", platformID, "error", err)
		}
	}
}

func (a *Agent) sample(ctx context.Context) {
	if len(a.samplers) == 0 {
		return
	}
	ticker := a.clock.NewTicker(a.settings.Platform.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sampleOnce()
		}
	}
}

// sampleOnce reads every sampler. Each gauge is keyed by name so a
// sample still waiting in the dispatcher is replaced, not duplicated.
func (a *Agent) sampleOnce() {
	for _, sampler := range a.samplers {
		gauges, err := sampler.Sample()
		if err != nil {
			a.logger.Debug("platform sample failed", "sensor_type", sampler.SensorType().Name, "error", err)
			continue
		}
		for _, gauge := range gauges {
			a.calls.Sample(sampler.sensorType, gauge.Name, gauge)
		}
	}
}
