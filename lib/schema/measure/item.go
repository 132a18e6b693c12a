// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package measure

import (
	"time"

	"github.com/bureau-foundation/tracehook/lib/ident"
)

// Item is a finished measurement ready to ship.
type Item struct {
	Kind         Kind           `json:"kind"`
	PlatformID   ident.RemoteID `json:"platform_id"`
	SensorTypeID ident.RemoteID `json:"sensor_type_id"`
	MethodID     ident.RemoteID `json:"method_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Envelope     `json:"payload"`

	// Key, when set, makes a newer buffered item replace an older
	// one with the same key instead of queueing beside it. Periodic
	// samplers use it so that only the latest sample of a gauge waits
	// in the buffer. Not transmitted.
	Key string `json:"-"`
}

// NewItem builds an Item around payload.
func NewItem(platform, sensorType, method ident.RemoteID, timestamp time.Time, payload Payload) Item {
	item := Item{
		PlatformID:   platform,
		SensorTypeID: sensorType,
		MethodID:     method,
		Timestamp:    timestamp,
		Envelope:     Wrap(payload),
	}
	if payload != nil {
		item.Kind = payload.Kind()
	}
	return item
}
