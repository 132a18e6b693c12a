// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/tracehook/lib/agentmetrics"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

// Defaults applied by [New] to zero Config fields.
const (
	DefaultFlushInterval   = 5 * time.Second
	DefaultMaxBuffered     = 10000
	DefaultShutdownTimeout = 2 * time.Second
)

// Sender delivers one batch to the collector. lib/collector.Client
// implements it on top of the resilient remote caller, so a returned
// error means the batch could not be delivered after retries.
type Sender interface {
	Send(ctx context.Context, items []measure.Item) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, items []measure.Item) error

func (f SenderFunc) Send(ctx context.Context, items []measure.Item) error { return f(ctx, items) }

// Config configures a Dispatcher. Sender, Clock, and Logger are
// required.
type Config struct {
	Sender  Sender
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *agentmetrics.Metrics

	// FlushInterval is the period of the flush ticker in Run.
	FlushInterval time.Duration

	// FlushThreshold triggers an early flush once this many items are
	// buffered. Zero disables early flushes.
	FlushThreshold int

	// MaxBuffered is the retained-memory ceiling in items.
	MaxBuffered int

	// ShutdownTimeout bounds the final flush when Run stops.
	ShutdownTimeout time.Duration
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	sender  Sender
	clock   clock.Clock
	logger  *slog.Logger
	metrics *agentmetrics.Metrics

	flushInterval   time.Duration
	flushThreshold  int
	maxBuffered     int
	shutdownTimeout time.Duration

	mu      sync.Mutex
	buffer  []measure.Item
	keyed   map[string]int // key to index in buffer
	dropped uint64
	closed  bool

	flights singleflight.Group
	sending chan struct{} // held for the duration of a send
	notify  chan struct{}
	done    chan struct{}
}

// New validates config and returns a Dispatcher. Call Run to start
// periodic flushing.
func New(config Config) (*Dispatcher, error) {
	switch {
	case config.Sender == nil:
		return nil, fmt.Errorf("dispatcher: Sender is required")
	case config.Clock == nil:
		return nil, fmt.Errorf("dispatcher: Clock is required")
	case config.Logger == nil:
		return nil, fmt.Errorf("dispatcher: Logger is required")
	case config.FlushInterval < 0, config.MaxBuffered < 0, config.FlushThreshold < 0, config.ShutdownTimeout < 0:
		return nil, fmt.Errorf("dispatcher: negative interval, threshold, ceiling, or timeout")
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.MaxBuffered == 0 {
		config.MaxBuffered = DefaultMaxBuffered
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.FlushThreshold > config.MaxBuffered {
		return nil, fmt.Errorf("dispatcher: FlushThreshold %d exceeds MaxBuffered %d",
			config.FlushThreshold, config.MaxBuffered)
	}

	return &Dispatcher{
		sender:          config.Sender,
		clock:           config.Clock,
		logger:          config.Logger,
		metrics:         config.Metrics,
		flushInterval:   config.FlushInterval,
		flushThreshold:  config.FlushThreshold,
		maxBuffered:     config.MaxBuffered,
		shutdownTimeout: config.ShutdownTimeout,
		keyed:           make(map[string]int),
		sending:         make(chan struct{}, 1),
		notify:          make(chan struct{}, 1),
		done:            make(chan struct{}),
	}, nil
}

// Add buffers item for the next flush. It never blocks on I/O. Items
// added after Run has returned are dropped.
func (d *Dispatcher) Add(item measure.Item) {
	d.mu.Lock()
	if d.closed {
		d.dropped++
		d.mu.Unlock()
		d.metrics.Dropped(1)
		return
	}

	if item.Key != "" {
		if index, ok := d.keyed[item.Key]; ok {
			d.buffer[index] = item
			d.mu.Unlock()
			return
		}
	}

	dropped := 0
	if len(d.buffer) >= d.maxBuffered {
		dropped = d.dropOldestLocked(len(d.buffer) - d.maxBuffered + 1)
	}
	if item.Key != "" {
		d.keyed[item.Key] = len(d.buffer)
	}
	d.buffer = append(d.buffer, item)
	size := len(d.buffer)
	wake := d.flushThreshold > 0 && size >= d.flushThreshold
	d.mu.Unlock()

	d.metrics.Dropped(dropped)
	d.metrics.SetBuffered(size)
	if wake {
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

// dropOldestLocked removes count items from the front of the buffer
// and returns how many it removed.
func (d *Dispatcher) dropOldestLocked(count int) int {
	count = min(count, len(d.buffer))
	if count <= 0 {
		return 0
	}
	clear(d.buffer[:count])
	d.buffer = d.buffer[count:]
	d.dropped += uint64(count)
	d.reindexLocked()
	return count
}

func (d *Dispatcher) reindexLocked() {
	clear(d.keyed)
	for index, item := range d.buffer {
		if item.Key != "" {
			d.keyed[item.Key] = index
		}
	}
}

// Flush sends everything buffered as one batch. A flush already in
// progress is joined rather than started again; the joined caller gets
// the in-progress flush's result. On failure the batch is put back in
// front of newer items and the error is returned.
func (d *Dispatcher) Flush(ctx context.Context) error {
	result := d.flights.DoChan("flush", func() (any, error) {
		d.sending <- struct{}{}
		defer func() { <-d.sending }()
		return nil, d.flush(ctx)
	})
	select {
	case outcome := <-result:
		return outcome.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) flush(ctx context.Context) error {
	d.mu.Lock()
	batch := d.buffer
	d.buffer = nil
	clear(d.keyed)
	d.mu.Unlock()

	if len(batch) == 0 {
		d.metrics.Flush(agentmetrics.FlushEmpty)
		return nil
	}
	d.metrics.SetBuffered(0)

	if err := d.sender.Send(ctx, batch); err != nil {
		dropped := d.requeue(batch)
		d.metrics.Flush(agentmetrics.FlushError)
		d.logger.Warn("flush failed, batch kept for the next attempt",
			"error", err,
			"items", len(batch),
			"dropped", dropped,
		)
		return fmt.Errorf("flushing %d items: %w", len(batch), err)
	}
	d.metrics.Sent(len(batch))
	d.metrics.Flush(agentmetrics.FlushOK)
	return nil
}

// requeue puts a failed batch in front of items buffered since it was
// taken. Keyed items in the batch that were superseded meanwhile are
// discarded. Returns the number of items dropped to stay under the
// ceiling.
func (d *Dispatcher) requeue(batch []measure.Item) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	merged := make([]measure.Item, 0, len(batch)+len(d.buffer))
	for _, item := range batch {
		if item.Key != "" {
			if _, superseded := d.keyed[item.Key]; superseded {
				continue
			}
		}
		merged = append(merged, item)
	}
	merged = append(merged, d.buffer...)
	d.buffer = merged

	dropped := d.dropOldestLocked(len(d.buffer) - d.maxBuffered)
	if dropped == 0 {
		d.reindexLocked()
	}
	d.metrics.Dropped(dropped)
	d.metrics.SetBuffered(len(d.buffer))
	return dropped
}

// Run flushes every FlushInterval and whenever Add crosses the
// threshold, until ctx is cancelled. It then makes one last flush
// bounded by ShutdownTimeout, discards whatever is still buffered, and
// closes Done. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	ticker := d.clock.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.flushInBackground(ctx)
		case <-d.notify:
			d.flushInBackground(ctx)
		case <-ctx.Done():
			d.shutdown()
			return
		}
	}
}

func (d *Dispatcher) flushInBackground(ctx context.Context) {
	if err := d.Flush(ctx); err != nil && ctx.Err() == nil {
		d.logger.Debug("periodic flush failed", "error", err)
	}
}

func (d *Dispatcher) shutdown() {
	drainContext, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
	defer cancel()

	// A periodic flush may still be sending on the cancelled Run
	// context. Wait for it to requeue, then send again under the drain
	// deadline instead of joining it.
	select {
	case d.sending <- struct{}{}:
		if err := d.flush(drainContext); err != nil {
			d.logger.Warn("final flush failed", "error", err)
		}
		<-d.sending
	case <-drainContext.Done():
		d.logger.Warn("final flush skipped, a send is still in progress", "timeout", d.shutdownTimeout)
	}

	d.mu.Lock()
	d.closed = true
	discarded := len(d.buffer)
	d.buffer = nil
	clear(d.keyed)
	d.dropped += uint64(discarded)
	d.mu.Unlock()

	d.metrics.Dropped(discarded)
	d.metrics.SetBuffered(0)
	if discarded > 0 {
		d.logger.Warn("discarding undelivered measurements at shutdown", "items", discarded)
	}
}

// Done is closed once Run has returned, after the final flush.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Len returns the number of buffered items.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// Dropped returns how many items have been dropped since creation.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
