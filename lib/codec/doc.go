// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used on the agent's
// wire: socket request and response frames and measurement batches.
//
// Encoding is Core Deterministic (RFC 8949 section 4.2), so identical
// batches produce identical bytes. Decoding ignores unknown fields and
// decodes untyped maps as map[string]any. Struct fields are named by
// their json tags, which fxamacker/cbor honours when no cbor tag is
// present.
package codec
