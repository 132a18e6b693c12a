// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package measure

import (
	"time"

	"github.com/bureau-foundation/tracehook/lib/ident"
)

// InvocationData is one node of a completed call tree. Children are in
// call order.
type InvocationData struct {
	MethodID     ident.RemoteID   `json:"method_id"`
	SensorTypeID ident.RemoteID   `json:"sensor_type_id"`
	Start        time.Time        `json:"start"`
	Duration     time.Duration    `json:"duration"`
	ChildCount   int              `json:"child_count"`
	Attachments  []Attachment     `json:"attachments,omitempty"`
	Children     []InvocationData `json:"children,omitempty"`
}

func (InvocationData) Kind() Kind { return KindInvocation }

// Attachment is a payload contributed by a sensor while the call was
// open. Discriminator separates several payloads of the same sensor
// type, e.g. one per SQL statement.
type Attachment struct {
	SensorTypeID  ident.RemoteID `json:"sensor_type_id"`
	Discriminator string         `json:"discriminator,omitempty"`
	Envelope      `json:"payload"`
}

// NodeCount returns the number of nodes in the tree rooted at d.
func (d *InvocationData) NodeCount() int {
	count := 1
	for i := range d.Children {
		count += d.Children[i].NodeCount()
	}
	return count
}

// Walk visits d and its descendants depth-first in call order.
func (d *InvocationData) Walk(visit func(depth int, node *InvocationData)) {
	d.walk(0, visit)
}

func (d *InvocationData) walk(depth int, visit func(int, *InvocationData)) {
	visit(depth, d)
	for i := range d.Children {
		d.Children[i].walk(depth+1, visit)
	}
}
