// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform describes the process the agent runs in: the
// descriptor registered with the collector ([Probe]) and the periodic
// platform sensors ([Sampler]) whose gauges the agent ships alongside
// call trees.
//
// Probing never fails. A host without a routable address or without
// uname(2) is still a valid platform; the missing fields stay empty.
package platform
