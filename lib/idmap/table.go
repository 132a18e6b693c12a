// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idmap

import "github.com/bureau-foundation/tracehook/lib/ident"

// table holds the descriptors of one kind. LocalID n lives at index
// n-1. All access happens under Manager.mu.
type table[D any] struct {
	byFingerprint map[ident.Fingerprint]ident.LocalID
	descriptors   []D
	remote        []ident.RemoteID
	pending       []ident.LocalID
}

func newTable[D any]() table[D] {
	return table[D]{byFingerprint: make(map[ident.Fingerprint]ident.LocalID)}
}

// add returns the LocalID for the descriptor, assigning and queueing
// a new one when the fingerprint has not been seen.
func (t *table[D]) add(fingerprint ident.Fingerprint, descriptor D) (ident.LocalID, bool) {
	if local, ok := t.byFingerprint[fingerprint]; ok {
		return local, false
	}
	t.descriptors = append(t.descriptors, descriptor)
	t.remote = append(t.remote, 0)
	local := ident.LocalID(len(t.descriptors))
	t.byFingerprint[fingerprint] = local
	t.pending = append(t.pending, local)
	return local, true
}

func (t *table[D]) known(local ident.LocalID) bool {
	return local.Valid() && int(local) <= len(t.descriptors)
}

func (t *table[D]) resolve(local ident.LocalID) (ident.RemoteID, bool) {
	if !t.known(local) {
		return 0, false
	}
	remote := t.remote[local-1]
	return remote, remote.Known()
}

// head returns the oldest pending entry.
func (t *table[D]) head() (ident.LocalID, D, bool) {
	var zero D
	if len(t.pending) == 0 {
		return 0, zero, false
	}
	local := t.pending[0]
	return local, t.descriptors[local-1], true
}

// complete records the remote id for the head entry.
func (t *table[D]) complete(local ident.LocalID, remote ident.RemoteID) {
	if len(t.pending) == 0 || t.pending[0] != local {
		return
	}
	t.pending = t.pending[1:]
	t.remote[local-1] = remote
}

// forget drops every remote id. With requeue, every descriptor goes
// back on the pending queue in LocalID order.
func (t *table[D]) forget(requeue bool) {
	clear(t.remote)
	t.pending = t.pending[:0]
	if !requeue {
		return
	}
	for index := range t.descriptors {
		t.pending = append(t.pending, ident.LocalID(index+1))
	}
}
