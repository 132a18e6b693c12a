// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every tracehook component.
//
// Call trees measure durations, the dispatcher flushes on a ticker, and
// the retry and registration loops wait between attempts. All of them
// take a Clock so that tests drive time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	dispatcher := dispatch.New(dispatch.Config{Clock: fake, ...})
//	go dispatcher.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second)
//
// Durations are always computed as Now().Sub(start). With Real() the
// times carry a monotonic reading, so wall-clock steps never produce
// negative or inflated durations.
package clock
