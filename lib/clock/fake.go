// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only through
// Advance.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock. Pending waits (After, Sleep and
// tickers) are kept in deadline order and fire during Advance.
type FakeClock struct {
	mu       sync.Mutex
	now      time.Time
	pending  waiterQueue
	sequence uint64
	changed  *sync.Cond
}

type waiter struct {
	deadline time.Time
	sequence uint64
	channel  chan time.Time
	interval time.Duration // non-zero for tickers
	index    int           // position in the heap, -1 when not queued
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.scheduleLocked(&waiter{deadline: c.now.Add(d), channel: channel})
	return channel
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	tick := &waiter{deadline: c.now.Add(d), channel: channel, interval: d}
	c.scheduleLocked(tick)

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if tick.index >= 0 {
				heap.Remove(&c.pending, tick.index)
				c.changed.Broadcast()
			}
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			tick.interval = d
			tick.deadline = c.now.Add(d)
			if tick.index >= 0 {
				heap.Fix(&c.pending, tick.index)
				return
			}
			c.scheduleLocked(tick)
		},
	}
}

func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves time forward by d. Every waiter whose deadline falls
// inside the window fires in deadline order, and Now reports that
// deadline while it fires. Tickers spanning several intervals fire once
// per interval; ticks that find the channel full are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.now.Add(d)
	for c.pending.Len() > 0 {
		next := c.pending[0]
		if next.deadline.After(target) {
			break
		}
		heap.Pop(&c.pending)
		c.now = next.deadline
		select {
		case next.channel <- next.deadline:
		default:
		}
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
			c.scheduleLocked(next)
		}
	}
	c.now = target
	c.changed.Broadcast()
}

// WaitForTimers blocks until at least n waits are pending. Tests call
// it before Advance so that the goroutine under test has registered its
// timer first.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pending.Len() < n {
		c.changed.Wait()
	}
}

// PendingCount reports the number of pending waits.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

func (c *FakeClock) scheduleLocked(w *waiter) {
	c.sequence++
	w.sequence = c.sequence
	heap.Push(&c.pending, w)
	c.changed.Broadcast()
}

// waiterQueue orders waiters by deadline, breaking ties by
// registration order.
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].sequence < q[j].sequence
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() any {
	old := *q
	last := len(old) - 1
	w := old[last]
	old[last] = nil
	w.index = -1
	*q = old[:last]
	return w
}
