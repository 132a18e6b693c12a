// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"time"

	"github.com/bureau-foundation/tracehook/lib/codec"
)

// Request is the envelope written by the client.
type Request struct {
	Action string           `cbor:"action"`
	Data   codec.RawMessage `cbor:"data,omitempty"`
}

// Response is the envelope written by the server.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// maxMessageSize bounds a single request or response. Ingest frames
// are capped well below this by lib/wire.
const maxMessageSize = 80 * 1024 * 1024

const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
)
