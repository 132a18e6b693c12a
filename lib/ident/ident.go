// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ident defines the identifiers the agent hands out locally and
// the ones the collector assigns, plus the descriptors that are
// registered to obtain the latter.
//
// A LocalID is assigned the moment a method or sensor type becomes
// known to the agent, before any network contact, and never changes for
// the life of the process. A RemoteID is assigned by the collector when
// the matching descriptor is registered. The zero value of both means
// "none".
package ident

import "strconv"

// LocalID is a process-local identifier. Valid ids start at 1.
type LocalID uint32

// Valid reports whether id was assigned by the agent.
func (id LocalID) Valid() bool { return id != 0 }

func (id LocalID) String() string { return "local:" + strconv.FormatUint(uint64(id), 10) }

// RemoteID is an identifier assigned by the collector.
type RemoteID int64

// Known reports whether id was assigned by the collector.
func (id RemoteID) Known() bool { return id > 0 }

func (id RemoteID) String() string {
	if !id.Known() {
		return "remote:unknown"
	}
	return "remote:" + strconv.FormatInt(int64(id), 10)
}
