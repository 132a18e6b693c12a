// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"fmt"
	"strings"
)

// PlatformDescriptor describes the agent process to the collector.
type PlatformDescriptor struct {
	AgentName     string   `json:"agent_name"`
	Version       string   `json:"version"`
	Hostname      string   `json:"hostname"`
	Addresses     []string `json:"addresses,omitempty"`
	KernelRelease string   `json:"kernel_release,omitempty"`
	Machine       string   `json:"machine,omitempty"`
	// InstanceID distinguishes restarts of the same agent on the same
	// host. It is excluded from the fingerprint.
	InstanceID string `json:"instance_id,omitempty"`
}

// Fingerprint identifies the platform independently of restarts.
func (p PlatformDescriptor) Fingerprint() Fingerprint {
	return fingerprint(platformDomain, p.AgentName, p.Hostname, strings.Join(p.Addresses, ","))
}

// MethodDescriptor names an instrumented function or method.
type MethodDescriptor struct {
	Package    string   `json:"package"`
	Receiver   string   `json:"receiver,omitempty"`
	Name       string   `json:"name"`
	Parameters []string `json:"parameters,omitempty"`
	Results    []string `json:"results,omitempty"`
}

// String renders the descriptor the way Go stack traces print frames,
// e.g. "net/http.(*Client).Do(*http.Request) (*http.Response, error)".
func (m MethodDescriptor) String() string {
	var builder strings.Builder
	builder.WriteString(m.QualifiedName())
	builder.WriteByte('(')
	builder.WriteString(strings.Join(m.Parameters, ", "))
	builder.WriteByte(')')
	switch len(m.Results) {
	case 0:
	case 1:
		builder.WriteString(" " + m.Results[0])
	default:
		builder.WriteString(" (" + strings.Join(m.Results, ", ") + ")")
	}
	return builder.String()
}

// QualifiedName is String without the signature, e.g.
// "net/http.(*Client).Do".
func (m MethodDescriptor) QualifiedName() string {
	switch {
	case m.Receiver == "":
		return m.Package + "." + m.Name
	case strings.HasPrefix(m.Receiver, "*"):
		return fmt.Sprintf("%s.(%s).%s", m.Package, m.Receiver, m.Name)
	default:
		return m.Package + "." + m.Receiver + "." + m.Name
	}
}

func (m MethodDescriptor) Fingerprint() Fingerprint {
	return fingerprint(methodDomain, m.String())
}

// SensorKind separates sensors that run inside instrumented calls
// from sensors that sample the platform periodically.
type SensorKind string

const (
	MethodSensor   SensorKind = "method"
	PlatformSensor SensorKind = "platform"
)

// SensorTypeDescriptor names a sensor implementation and its settings.
type SensorTypeDescriptor struct {
	Name     string            `json:"name"`
	Kind     SensorKind        `json:"kind"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (s SensorTypeDescriptor) Fingerprint() Fingerprint {
	parts := []string{string(s.Kind), s.Name}
	for _, key := range sortedKeys(s.Settings) {
		parts = append(parts, key+"="+s.Settings[key])
	}
	return fingerprint(sensorTypeDomain, parts...)
}
