// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package redisq implements the collector link on top of Redis, for
// deployments where agents cannot reach the collector directly but
// share a Redis instance with it.
//
// Registration is answered by Redis itself: a Lua script hands out
// ids from a counter and remembers them per descriptor fingerprint, so
// re-registering the same descriptor yields the same id. Ingested
// batches are msgpack-encoded and pushed onto a list that the
// collector drains with a [Consumer]. Keep-alives refresh a per-platform
// key with a TTL.
//
// Key layout, relative to the configured prefix:
//
//	ids                         id counter shared by all kinds
//	platform:<fingerprint>      platform id
//	platforms                   hash: platform id -> msgpack descriptor
//	method:<pid>:<fingerprint>  method id
//	methods:<pid>               hash: method id -> msgpack descriptor
//	sensor:<pid>:<fingerprint>  sensor type id
//	sensors:<pid>               hash: sensor type id -> msgpack descriptor
//	mappings:<pid>              set of "<sensor type id>:<method id>"
//	alive:<pid>                 keep-alive marker with TTL
//	ingest                      list of msgpack ingest requests
package redisq
