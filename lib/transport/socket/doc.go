// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package socket carries collector operations as CBOR request/response
// pairs over unix or TCP stream sockets.
//
// Each call uses its own connection: the client writes one [Request],
// half-closes, and reads one [Response]. CBOR values are
// self-delimiting, so there is no further framing. A response with
// OK=false is surfaced by [Client.Call] as a *remote.RejectedError;
// every other failure is a plain connection or codec error that the
// remote caller treats as a network fault.
package socket
