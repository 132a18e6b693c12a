// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by tracehook tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// guard that keeps a broken test from hanging; they are the only place
// tests wait on the real clock. Everything else in the suite advances a
// [clock.FakeClock].
//
// [SocketPath] returns a unix socket path short enough for sun_path.
// [Logger] returns a logger that discards output, for components that
// require one.
package testutil
