// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package calltree

import (
	"runtime/debug"
	"time"

	"github.com/bureau-foundation/tracehook/lib/agentmetrics"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

// node is an open or finished call. Children are owned by their parent;
// parent is a back reference.
type node struct {
	method     ident.LocalID
	sensorType ident.LocalID
	start      time.Time
	end        time.Time
	prunable   bool

	parent      *node
	children    []*node
	childCount  int
	attachments []attachment
}

type attachment struct {
	sensorType    ident.LocalID
	discriminator string
	payload       measure.Payload
}

// EnterOption adjusts a node as it is opened.
type EnterOption func(*node)

// Prunable marks a nested call as structural: if it finishes without
// any attached payload it is removed and its children take its place
// in the parent. Roots are never pruned.
func Prunable() EnterOption {
	return func(n *node) { n.prunable = true }
}

// Stack is the per-goroutine stack of open calls.
type Stack struct {
	runtime *Runtime
	open    []*node

	// handingOff is set while a finished tree is passed to the sink.
	// Hook calls made from inside the sink are ignored; suppressed
	// counts their unmatched enters.
	handingOff bool
	suppressed int
}

// Depth returns the number of open calls.
func (s *Stack) Depth() int { return len(s.open) }

// Enter opens a call of method observed by sensorType.
func (s *Stack) Enter(method, sensorType ident.LocalID, options ...EnterOption) {
	if s.handingOff {
		s.suppressed++
		s.runtime.metrics.HookFault(agentmetrics.FaultReentrant)
		return
	}
	defer s.recoverFault("enter")

	call := &node{method: method, sensorType: sensorType, start: s.runtime.clock.Now()}
	for _, option := range options {
		option(call)
	}
	if top := s.top(); top != nil {
		call.parent = top
		top.children = append(top.children, call)
	}
	s.open = append(s.open, call)
}

// Attach adds payload to the innermost open call. A payload with the
// same sensor type and discriminator as an earlier one replaces it.
// Returns false when no call is open.
func (s *Stack) Attach(sensorType ident.LocalID, discriminator string, payload measure.Payload) bool {
	if s.handingOff {
		return false
	}
	top := s.top()
	if top == nil || payload == nil {
		return false
	}
	for index := range top.attachments {
		existing := &top.attachments[index]
		if existing.sensorType == sensorType && existing.discriminator == discriminator {
			existing.payload = payload
			return true
		}
	}
	top.attachments = append(top.attachments, attachment{
		sensorType:    sensorType,
		discriminator: discriminator,
		payload:       payload,
	})
	return true
}

// Exit closes the innermost open call. Closing the outermost call
// completes the tree.
func (s *Stack) Exit() {
	if s.handingOff {
		if s.suppressed > 0 {
			s.suppressed--
		}
		s.runtime.metrics.HookFault(agentmetrics.FaultReentrant)
		return
	}
	defer s.recoverFault("exit")

	call := s.top()
	if call == nil {
		s.runtime.logger.Warn("call tree exit without matching enter, stack reset")
		s.runtime.metrics.HookFault(agentmetrics.FaultUnderflow)
		s.reset()
		return
	}
	s.open = s.open[:len(s.open)-1]
	call.end = s.runtime.clock.Now()
	call.childCount = len(call.children)

	if call.parent != nil {
		if call.prunable && len(call.attachments) == 0 {
			call.parent.replaceChild(call, call.children)
		}
		return
	}
	s.complete(call)
}

// replaceChild substitutes replacements for child, keeping call order.
func (n *node) replaceChild(child *node, replacements []*node) {
	for index, candidate := range n.children {
		if candidate != child {
			continue
		}
		for _, replacement := range replacements {
			replacement.parent = n
		}
		rest := append(replacements, n.children[index+1:]...)
		n.children = append(n.children[:index], rest...)
		return
	}
}

func (s *Stack) top() *node {
	if len(s.open) == 0 {
		return nil
	}
	return s.open[len(s.open)-1]
}

func (s *Stack) reset() {
	clear(s.open)
	s.open = s.open[:0]
	s.handingOff = false
	s.suppressed = 0
}

func (s *Stack) recoverFault(hook string) {
	recovered := recover()
	if recovered == nil {
		return
	}
	s.runtime.logger.Error("call tree hook panicked, stack reset",
		"hook", hook,
		"panic", recovered,
		"stack", string(debug.Stack()),
	)
	s.runtime.metrics.HookFault(agentmetrics.FaultPanic)
	s.reset()
}

// complete filters, resolves, and hands off a finished root.
func (s *Stack) complete(root *node) {
	r := s.runtime
	duration := root.end.Sub(root.start)
	if duration < r.minDurationFor(root.method) {
		r.metrics.TreeCompleted(agentmetrics.TreeFiltered)
		return
	}

	platformID, err := r.resolver.ResolvePlatformID()
	if err != nil {
		s.dropUnresolved(root, err)
		return
	}
	data, err := r.convert(root)
	if err != nil {
		s.dropUnresolved(root, err)
		return
	}

	item := measure.NewItem(platformID, data.SensorTypeID, data.MethodID, data.Start, data)
	s.handingOff = true
	defer func() { s.handingOff = false }()
	r.sink.Add(item)
	r.metrics.TreeCompleted(agentmetrics.TreeDispatched)
}

func (s *Stack) dropUnresolved(root *node, err error) {
	s.runtime.metrics.TreeCompleted(agentmetrics.TreeUnresolved)
	s.runtime.logger.Debug("dropping call tree with unregistered ids",
		"method", root.method,
		"reason", err,
	)
}

// convert builds the immutable tree with collector ids.
func (r *Runtime) convert(call *node) (measure.InvocationData, error) {
	methodID, err := r.resolver.ResolveMethodID(call.method)
	if err != nil {
		return measure.InvocationData{}, err
	}
	sensorTypeID, err := r.resolver.ResolveSensorTypeID(call.sensorType)
	if err != nil {
		return measure.InvocationData{}, err
	}

	data := measure.InvocationData{
		MethodID:     methodID,
		SensorTypeID: sensorTypeID,
		Start:        call.start.Round(0),
		Duration:     call.end.Sub(call.start),
		ChildCount:   call.childCount,
	}
	for _, attached := range call.attachments {
		attachedSensor, err := r.resolver.ResolveSensorTypeID(attached.sensorType)
		if err != nil {
			return measure.InvocationData{}, err
		}
		data.Attachments = append(data.Attachments, measure.Attachment{
			SensorTypeID:  attachedSensor,
			Discriminator: attached.discriminator,
			Envelope:      measure.Wrap(attached.payload),
		})
	}
	for _, child := range call.children {
		converted, err := r.convert(child)
		if err != nil {
			return measure.InvocationData{}, err
		}
		data.Children = append(data.Children, converted)
	}
	return data, nil
}
