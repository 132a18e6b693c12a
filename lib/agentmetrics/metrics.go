// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentmetrics exposes the agent's own health as Prometheus
// metrics: remote call outcomes, dispatcher buffer pressure, call tree
// outcomes, and registration progress.
//
// A nil *Metrics is valid and records nothing, so components accept one
// unconditionally and tests that do not care pass nil.
package agentmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracehook"

// Failure reasons for RemoteFailure.
const (
	ReasonNotConnected = "not_connected"
	ReasonNetwork      = "network"
	ReasonTimeout      = "timeout"
	ReasonRejected     = "rejected"
	ReasonCancelled    = "cancelled"
	ReasonExhausted    = "exhausted"
)

// Call tree outcomes for TreeCompleted.
const (
	TreeDispatched = "dispatched"
	TreeFiltered   = "filtered"
	TreeUnresolved = "unresolved"
)

// Hook faults for HookFault.
const (
	FaultUnderflow = "underflow"
	FaultPanic     = "panic"
	FaultReentrant = "reentrant"
)

// Flush results for Flush.
const (
	FlushOK    = "ok"
	FlushError = "error"
	FlushEmpty = "empty"
)

// Metrics holds every collector the agent registers.
type Metrics struct {
	remoteAttempts *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec

	dispatchBuffered prometheus.Gauge
	dispatchDropped  prometheus.Counter
	dispatchSent     prometheus.Counter
	dispatchFlushes  *prometheus.CounterVec

	trees      *prometheus.CounterVec
	hookFaults *prometheus.CounterVec

	idsPending    *prometheus.GaugeVec
	platformState prometheus.Gauge
}

// New creates the collectors and registers them with registerer.
// Passing prometheus.NewRegistry() keeps tests isolated from the
// default registry.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		remoteAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "attempts_total",
			Help:      "Remote call attempts by operation, including retries",
		}, []string{"operation"}),
		remoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "failures_total",
			Help:      "Failed remote call attempts by operation and reason",
		}, []string{"operation", "reason"}),
		remoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Duration of logical remote calls including retry waits",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),

		dispatchBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "buffered_items",
			Help:      "Measurements waiting to be sent",
		}),
		dispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_items_total",
			Help:      "Measurements dropped because the buffer ceiling was reached",
		}),
		dispatchSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sent_items_total",
			Help:      "Measurements delivered to the collector",
		}),
		dispatchFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "flushes_total",
			Help:      "Flushes by result (ok, error, empty)",
		}, []string{"result"}),

		trees: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calltree",
			Name:      "trees_total",
			Help:      "Completed call trees by outcome",
		}, []string{"outcome"}),
		hookFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calltree",
			Name:      "hook_faults_total",
			Help:      "Hook invocations that were ignored or reset the stack",
		}, []string{"fault"}),

		idsPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "idmap",
			Name:      "pending",
			Help:      "Descriptors waiting for registration by kind",
		}, []string{"kind"}),
		platformState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "idmap",
			Name:      "platform_state",
			Help:      "Platform registration state (0 unregistered, 1 registering, 2 registered, 3 unregistering, 4 terminated)",
		}),
	}
}

func (m *Metrics) RemoteAttempt(operation string) {
	if m == nil {
		return
	}
	m.remoteAttempts.WithLabelValues(operation).Inc()
}

func (m *Metrics) RemoteFailure(operation, reason string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) RemoteDuration(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.remoteLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) SetBuffered(count int) {
	if m == nil {
		return
	}
	m.dispatchBuffered.Set(float64(count))
}

func (m *Metrics) Dropped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dispatchDropped.Add(float64(count))
}

func (m *Metrics) Sent(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dispatchSent.Add(float64(count))
}

func (m *Metrics) Flush(result string) {
	if m == nil {
		return
	}
	m.dispatchFlushes.WithLabelValues(result).Inc()
}

func (m *Metrics) TreeCompleted(outcome string) {
	if m == nil {
		return
	}
	m.trees.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HookFault(fault string) {
	if m == nil {
		return
	}
	m.hookFaults.WithLabelValues(fault).Inc()
}

func (m *Metrics) SetPending(kind string, count int) {
	if m == nil {
		return
	}
	m.idsPending.WithLabelValues(kind).Set(float64(count))
}

func (m *Metrics) SetPlatformState(state int) {
	if m == nil {
		return
	}
	m.platformState.Set(float64(state))
}
