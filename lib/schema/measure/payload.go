// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package measure

import "time"

// Kind identifies the payload carried by an Item or Attachment.
type Kind string

const (
	KindTimer      Kind = "timer"
	KindSQL        Kind = "sql"
	KindException  Kind = "exception"
	KindLog        Kind = "log"
	KindGauge      Kind = "gauge"
	KindInvocation Kind = "invocation"
)

// Payload is implemented by every measurement a sensor produces.
type Payload interface {
	Kind() Kind
}

// Timer aggregates one or more timed executions.
type Timer struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

func (Timer) Kind() Kind { return KindTimer }

// Observe folds one more execution into the aggregate.
func (t Timer) Observe(d time.Duration) Timer {
	if t.Count == 0 || d < t.Min {
		t.Min = d
	}
	if d > t.Max {
		t.Max = d
	}
	t.Count++
	t.Total += d
	return t
}

// SQL records one executed statement.
type SQL struct {
	Statement  string        `json:"statement"`
	Parameters []string      `json:"parameters,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (SQL) Kind() Kind { return KindSQL }

// ExceptionEvent says what happened to an error at the instrumented
// call: it was created there, passed through, or handled.
type ExceptionEvent string

const (
	ExceptionCreated ExceptionEvent = "created"
	ExceptionPassed  ExceptionEvent = "passed"
	ExceptionHandled ExceptionEvent = "handled"
)

// Exception records an error or recovered panic.
type Exception struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Event   ExceptionEvent `json:"event"`
	Stack   []string       `json:"stack,omitempty"`
}

func (Exception) Kind() Kind { return KindException }

// Log is a log record captured inside an instrumented call.
type Log struct {
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (Log) Kind() Kind { return KindLog }

// Gauge is one sample of a platform value.
type Gauge struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

func (Gauge) Kind() Kind { return KindGauge }

// Envelope holds exactly one payload. Unset fields are omitted on the
// wire.
type Envelope struct {
	Timer      *Timer          `json:"timer,omitempty"`
	SQL        *SQL            `json:"sql,omitempty"`
	Exception  *Exception      `json:"exception,omitempty"`
	Log        *Log            `json:"log,omitempty"`
	Gauge      *Gauge          `json:"gauge,omitempty"`
	Invocation *InvocationData `json:"invocation,omitempty"`
}

// Wrap copies payload into a new Envelope. A nil or unknown payload
// produces an empty Envelope.
func Wrap(payload Payload) Envelope {
	switch value := payload.(type) {
	case Timer:
		return Envelope{Timer: &value}
	case *Timer:
		return Wrap(*value)
	case SQL:
		return Envelope{SQL: &value}
	case *SQL:
		return Wrap(*value)
	case Exception:
		return Envelope{Exception: &value}
	case *Exception:
		return Wrap(*value)
	case Log:
		return Envelope{Log: &value}
	case *Log:
		return Wrap(*value)
	case Gauge:
		return Envelope{Gauge: &value}
	case *Gauge:
		return Wrap(*value)
	case InvocationData:
		return Envelope{Invocation: &value}
	case *InvocationData:
		return Wrap(*value)
	}
	return Envelope{}
}

// Payload returns the carried payload, or nil for an empty envelope.
func (e Envelope) Payload() Payload {
	switch {
	case e.Timer != nil:
		return *e.Timer
	case e.SQL != nil:
		return *e.SQL
	case e.Exception != nil:
		return *e.Exception
	case e.Log != nil:
		return *e.Log
	case e.Gauge != nil:
		return *e.Gauge
	case e.Invocation != nil:
		return *e.Invocation
	}
	return nil
}
