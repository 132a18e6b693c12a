// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idmap

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/tracehook/lib/ident"
)

// ErrIDNotAvailable matches every IDNotAvailableError.
var ErrIDNotAvailable = errors.New("idmap: remote id not available")

// IDNotAvailableError reports a lookup for which the collector has not
// assigned an id yet.
type IDNotAvailableError struct {
	Kind  string // "platform", "method" or "sensor type"
	Local ident.LocalID
}

func (e *IDNotAvailableError) Error() string {
	if e.Kind == kindPlatform {
		return "idmap: platform not registered"
	}
	return fmt.Sprintf("idmap: %s %s has no remote id", e.Kind, e.Local)
}

func (e *IDNotAvailableError) Is(target error) bool { return target == ErrIDNotAvailable }
