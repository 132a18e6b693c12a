// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
)

// ErrNotConnected is the cause recorded when no connection to the
// collector could be established.
var ErrNotConnected = errors.New("remote: not connected to collector")

// ErrNoResult is the cause recorded when a strategy stopped the loop
// without an outcome for an operation that must produce a value.
var ErrNoResult = errors.New("remote: retry loop ended without a result")

// ServerUnavailableError reports that the collector could not be
// reached for an operation.
type ServerUnavailableError struct {
	Operation string
	// Timeout is set when the last attempt ran out of time rather
	// than failing outright.
	Timeout bool
	Err     error
}

func (e *ServerUnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("remote: collector timed out on %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("remote: collector unavailable for %s: %v", e.Operation, e.Err)
}

func (e *ServerUnavailableError) Unwrap() error { return e.Err }

// RejectedError is returned by transports when the collector received
// the request and refused it.
type RejectedError struct {
	Operation string
	Message   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote: collector rejected %s: %s", e.Operation, e.Message)
}

// IsServerUnavailable reports whether err is or wraps a
// ServerUnavailableError.
func IsServerUnavailable(err error) bool {
	var unavailable *ServerUnavailableError
	return errors.As(err, &unavailable)
}

// IsRejected reports whether err is or wraps a RejectedError.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
