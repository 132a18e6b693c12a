// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// SocketPath returns a path for a unix socket named name inside a
// fresh directory under /tmp. t.TempDir can exceed the 108-byte
// sun_path limit on CI machines. The directory is removed when the
// test ends.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "tracehook-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(directory) })
	return filepath.Join(directory, name)
}

// Logger returns a logger that drops everything. Background goroutines
// may outlive the test, so output is not routed to t.Log.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
