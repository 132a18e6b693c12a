// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote runs logical calls to the collector with bounded
// retries and decides, in one place, when the collector counts as
// unreachable.
//
// A [Transport] moves one request and response. A [Caller] wraps it
// with a [retry.Policy], a per-attempt timeout, and error
// classification:
//
//   - not connected, and one Connect attempt fails: the call fails at
//     once with [ServerUnavailableError] without running the operation
//   - the collector answers but refuses ([RejectedError]): returned
//     unchanged, never retried
//   - the attempt times out: [ServerUnavailableError] with Timeout set,
//     not retried, because the collector may still be working on it
//   - any other error is a network failure and goes through the retry
//     strategy; exhaustion becomes [ServerUnavailableError]
//
// [Execute] is the generic form for operations that produce a value.
// Callers that only need delivery use [Caller.Call] or [Caller.Notify].
package remote
