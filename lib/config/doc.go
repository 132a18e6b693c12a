// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the tracehook
// agent and its binaries.
//
// Configuration is loaded from a single file specified by either the
// TRACEHOOK_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). YAML is the native format; files ending in
// .json or .jsonc are accepted too, with comments and trailing commas
// stripped by tidwall/jsonc. Durations are written as Go duration
// strings ("250ms", "10s").
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches. Production
// defaults are stricter: batches are compressed and trees shorter than
// a millisecond are not shipped.
//
// String fields that name endpoints (agent name, collector address,
// Redis URL) go through ${VAR} and ${VAR:-default} expansion after
// loading. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Collector, Retry, Registration,
//     Dispatch, CallTree, and Platform sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends on no other tracehook packages.
package config
