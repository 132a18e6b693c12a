// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package idmap correlates the identifiers the agent assigns locally
// with the identifiers the collector assigns on registration.
//
// Instrumentation registers methods and sensor types as soon as it
// encounters them and gets a LocalID back synchronously. The Manager
// queues the descriptors and a background loop ([Manager.Run])
// registers the platform and then every queued descriptor, in the
// order it was queued. Sensors resolve LocalIDs to RemoteIDs on the hot
// path; resolution never blocks and fails with [ErrIDNotAvailable]
// until registration has completed, in which case the sensor drops or
// defers its measurement.
//
// The platform moves through Unregistered, Registering, Registered,
// Unregistering and Terminated. When the collector is unreachable the
// loop waits a fixed interval and tries again; the per-call retry
// policy of the Registrar only bounds a single attempt.
// [Manager.UnregisterPlatform] is terminal: it clears every mapping and
// stops the loop.
package idmap
