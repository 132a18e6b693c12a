// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package calltree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/tracehook/lib/agentmetrics"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

// Resolver maps local ids to collector ids without blocking.
// idmap.Manager implements it.
type Resolver interface {
	ResolvePlatformID() (ident.RemoteID, error)
	ResolveMethodID(local ident.LocalID) (ident.RemoteID, error)
	ResolveSensorTypeID(local ident.LocalID) (ident.RemoteID, error)
}

// Sink receives finished measurements. dispatch.Dispatcher implements
// it. Add must not block on I/O.
type Sink interface {
	Add(item measure.Item)
}

// Config configures a Runtime.
type Config struct {
	Resolver Resolver
	Sink     Sink
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *agentmetrics.Metrics

	// MinDuration discards finished trees whose root ran for less.
	// Zero keeps every tree.
	MinDuration time.Duration
}

// Runtime holds what all stacks share. It is safe for concurrent use.
type Runtime struct {
	resolver Resolver
	sink     Sink
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *agentmetrics.Metrics

	minDuration time.Duration

	mu              sync.RWMutex
	methodDurations map[ident.LocalID]time.Duration
}

// New validates config and returns a Runtime.
func New(config Config) (*Runtime, error) {
	switch {
	case config.Resolver == nil:
		return nil, fmt.Errorf("call tree runtime: Resolver is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("call tree runtime: Sink is required")
	case config.Clock == nil:
		return nil, fmt.Errorf("call tree runtime: Clock is required")
	case config.Logger == nil:
		return nil, fmt.Errorf("call tree runtime: Logger is required")
	case config.MinDuration < 0:
		return nil, fmt.Errorf("call tree runtime: MinDuration must not be negative")
	}
	return &Runtime{
		resolver:        config.Resolver,
		sink:            config.Sink,
		clock:           config.Clock,
		logger:          config.Logger,
		metrics:         config.Metrics,
		minDuration:     config.MinDuration,
		methodDurations: make(map[ident.LocalID]time.Duration),
	}, nil
}

// SetMinDuration overrides the minimum duration for trees rooted at
// method.
func (r *Runtime) SetMinDuration(method ident.LocalID, minimum time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methodDurations[method] = minimum
}

func (r *Runtime) minDurationFor(method ident.LocalID) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if minimum, ok := r.methodDurations[method]; ok {
		return minimum
	}
	return r.minDuration
}

// NewStack returns an empty stack bound to r.
func (r *Runtime) NewStack() *Stack {
	return &Stack{runtime: r}
}

type stackKey struct{}

// WithStack returns a context carrying stack.
func WithStack(ctx context.Context, stack *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, stack)
}

// StackFrom returns the stack carried by ctx, or nil.
func StackFrom(ctx context.Context) *Stack {
	stack, _ := ctx.Value(stackKey{}).(*Stack)
	return stack
}

// Begin returns ctx with a stack attached, reusing one already present.
// Call it once at the top of each goroutine that runs instrumented
// code and pass the result down.
func (r *Runtime) Begin(ctx context.Context) (context.Context, *Stack) {
	if stack := StackFrom(ctx); stack != nil && stack.runtime == r {
		return ctx, stack
	}
	stack := r.NewStack()
	return WithStack(ctx, stack), stack
}

// Record delivers a sensor payload. Inside an open call it is attached
// to the innermost node; otherwise it is sent on its own as an Item,
// provided its ids resolve. method may be zero for payloads that
// belong to no method.
func (r *Runtime) Record(ctx context.Context, sensorType, method ident.LocalID, discriminator string, payload measure.Payload) {
	if stack := StackFrom(ctx); stack != nil && stack.Attach(sensorType, discriminator, payload) {
		return
	}
	r.Send(sensorType, method, payload)
}

// Send resolves ids and hands payload to the sink as a standalone
// Item. Measurements whose ids are not yet known are dropped.
func (r *Runtime) Send(sensorType, method ident.LocalID, payload measure.Payload) {
	r.send(sensorType, method, "", payload)
}

// Sample sends a periodic platform sample. A newer sample with the same
// key replaces one still waiting in the sink.
func (r *Runtime) Sample(sensorType ident.LocalID, key string, payload measure.Payload) {
	r.send(sensorType, 0, key, payload)
}

func (r *Runtime) send(sensorType, method ident.LocalID, key string, payload measure.Payload) {
	platformID, err := r.resolver.ResolvePlatformID()
	if err != nil {
		r.logger.Debug("dropping measurement", "reason", err)
		return
	}
	sensorTypeID, err := r.resolver.ResolveSensorTypeID(sensorType)
	if err != nil {
		r.logger.Debug("dropping measurement", "reason", err)
		return
	}
	var methodID ident.RemoteID
	if method.Valid() {
		if methodID, err = r.resolver.ResolveMethodID(method); err != nil {
			r.logger.Debug("dropping measurement", "reason", err)
			return
		}
	}
	item := measure.NewItem(platformID, sensorTypeID, methodID, r.clock.Now(), payload)
	item.Key = key
	r.sink.Add(item)
}
