// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for tracehook binaries:
// fatal error reporting before the structured logger exists, and the
// logger itself, chosen by whether stderr is a terminal.
package process
