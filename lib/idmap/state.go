// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idmap

import "fmt"

// State is the platform registration state.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
	Unregistering
	// Terminated is the final unregistered state entered by
	// UnregisterPlatform. No registration happens after it.
	Terminated
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Unregistering:
		return "unregistering"
	case Terminated:
		return "unregistered (terminal)"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
