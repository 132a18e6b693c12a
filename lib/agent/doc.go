// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent assembles the monitoring agent from its parts and runs
// their background loops.
//
// An [Agent] owns one collector link (socket or redis transport behind
// a remote.Caller), the id manager that registers the platform and
// descriptors, the dispatcher that batches measurements, and the call
// tree runtime that instrumented code reports to. [Agent.Run] drives:
//
//   - the registration loop (idmap.Manager.Run)
//   - the flush loop (dispatch.Dispatcher.Run)
//   - the keep-alive ticker, which re-registers when the collector has
//     forgotten the platform
//   - the platform sampler ticker
//
// When the context passed to Run is cancelled the loops stop, the
// dispatcher makes its final flush, the platform is unregistered, and
// the transport is closed, in that order.
package agent
