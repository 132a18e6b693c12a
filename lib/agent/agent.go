// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/tracehook/lib/agentmetrics"
	"github.com/bureau-foundation/tracehook/lib/calltree"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/collector"
	"github.com/bureau-foundation/tracehook/lib/config"
	"github.com/bureau-foundation/tracehook/lib/dispatch"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/idmap"
	"github.com/bureau-foundation/tracehook/lib/platform"
	"github.com/bureau-foundation/tracehook/lib/remote"
	"github.com/bureau-foundation/tracehook/lib/retry"
	"github.com/bureau-foundation/tracehook/lib/transport/redisq"
	"github.com/bureau-foundation/tracehook/lib/transport/socket"
	"github.com/bureau-foundation/tracehook/lib/wire"
)

// keepAliveTTLFactor sizes the redis liveness key relative to the
// keep-alive period, so one late keep-alive does not expire it.
const keepAliveTTLFactor = 3

// Config configures an Agent. Settings, Clock, and Logger are
// required.
type Config struct {
	Settings *config.Config

	// Transport overrides the transport built from
	// Settings.Collector. The Agent owns it either way and closes it
	// when Run returns.
	Transport remote.Transport

	Clock  clock.Clock
	Logger *slog.Logger

	// Registerer receives the agent's own metrics. Nil disables them.
	Registerer prometheus.Registerer

	// Platform overrides the probed platform descriptor.
	Platform *ident.PlatformDescriptor

	// Samplers overrides the platform sensors. Nil selects the Go
	// runtime sampler plus the process and host samplers enabled in
	// Settings.Platform. An empty non-nil slice disables sampling.
	Samplers []platform.Sampler
}

type registeredSampler struct {
	platform.Sampler
	sensorType ident.LocalID
}

// Agent is safe for concurrent use. Run may be called once.
type Agent struct {
	settings  *config.Config
	transport remote.Transport
	clock     clock.Clock
	logger    *slog.Logger

	client     *collector.Client
	ids        *idmap.Manager
	dispatcher *dispatch.Dispatcher
	calls      *calltree.Runtime
	samplers   []registeredSampler

	started atomic.Bool
	done    chan struct{}
}

// New validates config and wires the agent. Nothing is sent to the
// collector until Run is called, but descriptors may be registered
// right away.
func New(config Config) (*Agent, error) {
	if config.Settings == nil {
		return nil, fmt.Errorf("agent: Settings is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("agent: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("agent: Logger is required")
	}
	settings := config.Settings
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("agent: invalid settings: %w", err)
	}
	compression, err := wire.ParseCompression(settings.Dispatch.Compression)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	var metrics *agentmetrics.Metrics
	if config.Registerer != nil {
		metrics = agentmetrics.New(config.Registerer)
	}

	transport := config.Transport
	if transport == nil {
		if transport, err = newTransport(settings, config.Clock); err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
	}

	caller, err := remote.NewCaller(remote.Config{
		Transport: transport,
		Policy: retry.Policy{
			MaxAttempts: settings.Retry.MaxAttempts,
			Increment:   settings.Retry.Increment,
		},
		Clock:          config.Clock,
		Logger:         config.Logger,
		Metrics:        metrics,
		AttemptTimeout: settings.Collector.AttemptTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	client, err := collector.NewClient(collector.Config{
		Caller:      caller,
		AgentName:   settings.AgentName,
		Compression: compression,
		Logger:      config.Logger.With("component", "collector"),
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	var descriptor ident.PlatformDescriptor
	if config.Platform != nil {
		descriptor = *config.Platform
	} else {
		descriptor = platform.Probe(settings.AgentName)
	}
	ids, err := idmap.New(idmap.Config{
		Registrar: client,
		Platform:  descriptor,
		Clock:     config.Clock,
		Logger:    config.Logger.With("component", "idmap"),
		Metrics:   metrics,
		Interval:  settings.Registration.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Sender:          client,
		Clock:           config.Clock,
		Logger:          config.Logger.With("component", "dispatch"),
		Metrics:         metrics,
		FlushInterval:   settings.Dispatch.FlushInterval,
		FlushThreshold:  settings.Dispatch.FlushThreshold,
		MaxBuffered:     settings.Dispatch.MaxBuffered,
		ShutdownTimeout: settings.Dispatch.ShutdownTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	calls, err := calltree.New(calltree.Config{
		Resolver:    ids,
		Sink:        dispatcher,
		Clock:       config.Clock,
		Logger:      config.Logger.With("component", "calltree"),
		Metrics:     metrics,
		MinDuration: settings.CallTree.MinDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	agent := &Agent{
		settings:   settings,
		transport:  transport,
		clock:      config.Clock,
		logger:     config.Logger,
		client:     client,
		ids:        ids,
		dispatcher: dispatcher,
		calls:      calls,
		done:       make(chan struct{}),
	}

	samplers := config.Samplers
	if samplers == nil {
		samplers = defaultSamplers(settings, config.Logger)
	}
	for _, sampler := range samplers {
		agent.samplers = append(agent.samplers, registeredSampler{
			Sampler:    sampler,
			sensorType: ids.RegisterSensorType(sampler.SensorType()),
		})
	}
	return agent, nil
}

func newTransport(settings *config.Config, clock clock.Clock) (remote.Transport, error) {
	switch settings.Collector.Transport {
	case config.TransportRedis:
		return redisq.New(redisq.Config{
			URL:          settings.Collector.RedisURL,
			Prefix:       settings.Collector.RedisPrefix,
			KeepAliveTTL: keepAliveTTLFactor * settings.Registration.KeepAliveInterval,
			Clock:        clock,
		})
	default:
		return socket.NewClient(settings.Collector.Network, settings.Collector.Address)
	}
}

func defaultSamplers(settings *config.Config, logger *slog.Logger) []platform.Sampler {
	samplers := []platform.Sampler{platform.NewRuntimeSampler()}
	if settings.Platform.ProcessSensor {
		process, err := platform.NewProcessSampler()
		if err != nil {
			logger.Warn("process sensor unavailable", "error", err)
		} else {
			samplers = append(samplers, process)
		}
	}
	if settings.Platform.HostSensor {
		host, err := platform.NewHostSampler()
		if err != nil {
			logger.Warn("host sensor unavailable", "error", err)
		} else {
			samplers = append(samplers, host)
		}
	}
	return samplers
}

// RegisterMethod returns the LocalID for method and applies any
// per-method minimum duration configured for it.
func (a *Agent) RegisterMethod(method ident.MethodDescriptor) ident.LocalID {
	local := a.ids.RegisterMethod(method)
	if minimum, ok := a.settings.CallTree.MethodMinDurations[method.QualifiedName()]; ok {
		a.calls.SetMinDuration(local, minimum)
	}
	return local
}

func (a *Agent) RegisterSensorType(sensorType ident.SensorTypeDescriptor) ident.LocalID {
	return a.ids.RegisterSensorType(sensorType)
}

func (a *Agent) MapSensorTypeToMethod(sensorType, method ident.LocalID) error {
	return a.ids.MapSensorTypeToMethod(sensorType, method)
}

// Calls returns the call tree runtime instrumented code reports to.
func (a *Agent) Calls() *calltree.Runtime { return a.calls }

// IDs returns the id manager.
func (a *Agent) IDs() *idmap.Manager { return a.ids }

// Dispatcher returns the measurement dispatcher.
func (a *Agent) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Trace runs fn as one call of method, timed by sensorType. Nested
// Trace calls through the returned context build a single tree.
func (a *Agent) Trace(ctx context.Context, method, sensorType ident.LocalID, fn func(context.Context) error) error {
	ctx, stack := a.calls.Begin(ctx)
	stack.Enter(method, sensorType)
	defer stack.Exit()
	return fn(ctx)
}

// Done is closed once Run has returned.
func (a *Agent) Done() <-chan struct{} { return a.done }
