// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package calltree turns paired enter/exit hook calls into nested
// invocation sequences.
//
// Each goroutine that runs instrumented code owns a [Stack], normally
// carried in its context.Context ([Runtime.Begin], [StackFrom]). Enter
// opens a node under the current one, sensors attach payloads to the
// innermost open node, and Exit closes it. When the outermost node
// closes, the tree is checked against the minimum duration, its local
// ids are resolved to collector ids, and it is handed to the [Sink]
// exactly once as a measure.InvocationData item.
//
// Hooks never fail the instrumented program. An Exit without a
// matching Enter, a panic inside hook processing, or a hook call made
// while a finished tree is being handed off is logged, counted, and
// absorbed; the first two reset the stack.
//
// A Stack is not safe for concurrent use. Sharing one between
// goroutines corrupts the tree.
package calltree
