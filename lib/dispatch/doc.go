// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch buffers finished measurements and ships them to the
// collector in batches.
//
// [Dispatcher.Add] is called from instrumented goroutines and only
// takes a mutex; it never waits on the network. Batches leave the
// buffer from [Dispatcher.Run], which flushes on a fixed interval and
// early when the buffer crosses a size threshold, and from explicit
// [Dispatcher.Flush] calls. Overlapping flushes are collapsed into one
// send.
//
// Delivery is at-least-once. A batch whose send fails is put back in
// front of anything buffered since, so the next flush retries it. The
// buffer never holds more than MaxBuffered items: past the ceiling the
// oldest items are dropped and counted.
//
// Items that carry a [measure.Item.Key] replace an older buffered item
// with the same key in place. Periodic samplers use this so a slow
// collector sees the latest gauge value instead of a backlog.
package dispatch
