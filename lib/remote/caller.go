// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/tracehook/lib/agentmetrics"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/retry"
)

// DefaultAttemptTimeout bounds a single attempt when Config leaves
// AttemptTimeout at zero.
const DefaultAttemptTimeout = 10 * time.Second

// Config configures a Caller.
type Config struct {
	Transport Transport
	// Policy creates the per-call retry strategy. Defaults to
	// retry.DefaultPolicy().
	Policy  retry.Factory
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *agentmetrics.Metrics

	// AttemptTimeout bounds each attempt (connection plus response).
	AttemptTimeout time.Duration
}

// Caller executes operations against a Transport. It holds no
// per-call state; every call builds a fresh retry strategy.
type Caller struct {
	transport      Transport
	policy         retry.Factory
	clock          clock.Clock
	logger         *slog.Logger
	metrics        *agentmetrics.Metrics
	attemptTimeout time.Duration
}

// NewCaller validates config and returns a Caller.
func NewCaller(config Config) (*Caller, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("remote caller: Transport is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("remote caller: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("remote caller: Logger is required")
	}
	policy := config.Policy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	timeout := config.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Caller{
		transport:      config.Transport,
		policy:         policy,
		clock:          config.Clock,
		logger:         config.Logger,
		metrics:        config.Metrics,
		attemptTimeout: timeout,
	}, nil
}

// WithPolicy returns a Caller sharing the transport but retrying under
// policy.
func (c *Caller) WithPolicy(policy retry.Factory) *Caller {
	copied := *c
	copied.policy = policy
	return &copied
}

// Transport returns the underlying transport.
func (c *Caller) Transport() Transport { return c.transport }

// Operation is one attempt of a logical remote call.
type Operation[T any] func(ctx context.Context, transport Transport) (T, error)

// Execute runs operation with retries and returns its first successful
// result. Every failure path ends in *ServerUnavailableError or
// *RejectedError; a data-returning call never ends silently.
func Execute[T any](ctx context.Context, c *Caller, name string, operation Operation[T]) (T, error) {
	result, completed, err := run(ctx, c, name, operation)
	if err != nil {
		return result, err
	}
	if !completed {
		return result, &ServerUnavailableError{Operation: name, Err: ErrNoResult}
	}
	return result, nil
}

// Call sends request and decodes the reply into response.
func (c *Caller) Call(ctx context.Context, operation string, request, response any) error {
	_, err := Execute(ctx, c, operation, func(ctx context.Context, transport Transport) (struct{}, error) {
		return struct{}{}, transport.Call(ctx, operation, request, response)
	})
	return err
}

// Notify delivers request without expecting a reply. A retry loop that
// ends without an outcome counts as delivered.
func (c *Caller) Notify(ctx context.Context, operation string, request any) error {
	_, _, err := run(ctx, c, operation, func(ctx context.Context, transport Transport) (struct{}, error) {
		return struct{}{}, transport.Call(ctx, operation, request, nil)
	})
	return err
}

// run is the retry template. completed is false when the strategy
// ended the loop without a success or a terminal failure.
func run[T any](ctx context.Context, c *Caller, name string, operation Operation[T]) (result T, completed bool, err error) {
	start := c.clock.Now()
	defer func() { c.metrics.RemoteDuration(name, c.clock.Now().Sub(start)) }()

	strategy := c.policy.New(c.clock)
	attempt := 0
	for strategy.ShouldRetry() {
		attempt++
		if err := c.ensureConnected(ctx); err != nil {
			c.metrics.RemoteFailure(name, agentmetrics.ReasonNotConnected)
			return result, false, &ServerUnavailableError{Operation: name, Err: err}
		}

		c.metrics.RemoteAttempt(name)
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		value, attemptErr := operation(attemptCtx, c.transport)
		cancel()
		if attemptErr == nil {
			return value, true, nil
		}

		var rejected *RejectedError
		switch {
		case errors.As(attemptErr, &rejected):
			c.metrics.RemoteFailure(name, agentmetrics.ReasonRejected)
			return result, false, attemptErr
		case ctx.Err() != nil:
			c.metrics.RemoteFailure(name, agentmetrics.ReasonCancelled)
			return result, false, &ServerUnavailableError{Operation: name, Err: ctx.Err()}
		case isTimeout(attemptErr):
			c.metrics.RemoteFailure(name, agentmetrics.ReasonTimeout)
			c.logger.Warn("remote call timed out",
				"operation", name,
				"attempt", attempt,
				"timeout", c.attemptTimeout,
			)
			return result, false, &ServerUnavailableError{Operation: name, Timeout: true, Err: attemptErr}
		}

		c.metrics.RemoteFailure(name, agentmetrics.ReasonNetwork)
		c.logger.Debug("remote attempt failed",
			"operation", name,
			"attempt", attempt,
			"error", attemptErr,
		)
		if failure := strategy.OnFailure(ctx); failure != nil {
			if errors.Is(failure, retry.ErrExhausted) {
				c.metrics.RemoteFailure(name, agentmetrics.ReasonExhausted)
				return result, false, &ServerUnavailableError{Operation: name, Err: attemptErr}
			}
			return result, false, &ServerUnavailableError{Operation: name, Err: failure}
		}
	}
	return result, false, nil
}

// ensureConnected makes one connection attempt when the transport has
// no handle.
func (c *Caller) ensureConnected(ctx context.Context) error {
	if c.transport.IsConnected() {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	if err := c.transport.Connect(connectCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if !c.transport.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
