// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package measure defines the finished measurements the agent ships to
// the collector.
//
// An [Item] is immutable once handed to the dispatcher. It carries the
// collector-assigned ids of its platform, sensor type and (for method
// sensors) method, a creation timestamp, and exactly one payload in its
// [Envelope]. Completed call trees travel as an Item whose payload is
// an [InvocationData] root.
//
// Struct fields are named by json tags. The CBOR codec and the msgpack
// encoder used by the Redis transport are both configured to read them.
package measure
