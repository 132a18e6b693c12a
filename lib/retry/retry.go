// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry decides whether, and after how long, a failed remote
// attempt is tried again.
//
// A Strategy is created fresh for every logical call and is used from a
// single goroutine:
//
//	strategy := policy.New(clk)
//	for strategy.ShouldRetry() {
//	    err := attempt()
//	    if err == nil {
//	        return nil
//	    }
//	    if err := strategy.OnFailure(ctx); err != nil {
//	        return err // ErrExhausted or a context error
//	    }
//	}
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/tracehook/lib/clock"
)

// ErrExhausted is returned by OnFailure once no attempts remain.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Strategy is the per-call retry state machine.
type Strategy interface {
	// ShouldRetry reports whether another attempt may be made. It is
	// called before every attempt, including the first.
	ShouldRetry() bool

	// OnFailure records a failed attempt. It returns ErrExhausted
	// when the policy allows no further attempts. Otherwise it waits
	// the policy's delay and returns nil, or returns ctx.Err() if
	// the context ends first.
	OnFailure(ctx context.Context) error
}

// State is the position of an Additive strategy in its state machine.
type State int

const (
	Ready State = iota
	Waiting
	Exhausted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultIncrement   = time.Second
)

// Factory creates a fresh Strategy for each logical call.
type Factory interface {
	New(clk clock.Clock) Strategy
}

// Policy is the configuration from which strategies are made. It is
// the default Factory.
type Policy struct {
	// MaxAttempts bounds the number of attempts per call. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// Increment is the additive step between waits: the wait after
	// the n-th failed attempt is n*Increment.
	Increment time.Duration
}

// DefaultPolicy returns three attempts with one-second increments.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Increment: DefaultIncrement}
}

// FailFast is a single-attempt policy. Keep-alives and registration
// attempts use it because their own loops already retry on a
// schedule.
func FailFast() Policy {
	return Policy{MaxAttempts: 1}
}

// Delay returns the wait that follows the given failed attempt.
func (p Policy) Delay(failedAttempt int) time.Duration {
	return time.Duration(failedAttempt) * p.Increment
}

// New returns a fresh Additive strategy that waits on clk.
func (p Policy) New(clk clock.Clock) Strategy {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Additive{clock: clk, policy: Policy{MaxAttempts: maxAttempts, Increment: p.Increment}}
}

// Additive allows a bounded number of attempts with a strictly
// increasing wait between them.
//
// States: Ready(n) moves to Waiting(n) when attempt n fails, Waiting(n)
// moves to Ready(n+1) after n*increment, and to Exhausted instead once
// n reaches the bound. Exhausted is terminal.
type Additive struct {
	clock  clock.Clock
	policy Policy

	attempt int // 1-based number of the attempt being made
	failed  int
	state   State
}

func (a *Additive) ShouldRetry() bool {
	if a.state != Ready || a.failed >= a.policy.MaxAttempts {
		return false
	}
	a.attempt = a.failed + 1
	return true
}

func (a *Additive) OnFailure(ctx context.Context) error {
	if a.state == Exhausted {
		return ErrExhausted
	}
	a.failed++
	if a.failed >= a.policy.MaxAttempts {
		a.state = Exhausted
		return ErrExhausted
	}

	a.state = Waiting
	delay := a.policy.Delay(a.failed)
	if delay > 0 {
		select {
		case <-a.clock.After(delay):
		case <-ctx.Done():
			a.state = Exhausted
			return ctx.Err()
		}
	}
	a.state = Ready
	return nil
}

// State reports the current state.
func (a *Additive) State() State { return a.state }

// Attempt reports the 1-based number of the current attempt, or 0
// before the first.
func (a *Additive) Attempt() int { return a.attempt }
