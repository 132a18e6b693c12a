// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "context"

// Transport performs single request/response exchanges with the
// collector. Implementations must be safe for concurrent use.
type Transport interface {
	// Connect establishes (or re-establishes) the connection.
	Connect(ctx context.Context) error

	// IsConnected reports whether a connection handle exists. A
	// transport that loses its connection during Call reports false
	// until Connect succeeds again.
	IsConnected() bool

	// Call sends request under the operation name and decodes the
	// reply into response, which may be nil when no reply body is
	// expected. A refusal by the collector is returned as
	// *RejectedError; everything else is treated as a network error.
	Call(ctx context.Context, operation string, request, response any) error

	Close() error
}
