// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"strings"
	"testing"
)

func TestMethodDescriptorString(t *testing.T) {
	tests := []struct {
		name       string
		descriptor MethodDescriptor
		want       string
	}{
		{
			name:       "function",
			descriptor: MethodDescriptor{Package: "main", Name: "run"},
			want:       "main.run()",
		},
		{
			name: "pointer receiver",
			descriptor: MethodDescriptor{
				Package:    "net/http",
				Receiver:   "*Client",
				Name:       "Do",
				Parameters: []string{"*http.Request"},
				Results:    []string{"*http.Response", "error"},
			},
			want: "net/http.(*Client).Do(*http.Request) (*http.Response, error)",
		},
		{
			name: "value receiver single result",
			descriptor: MethodDescriptor{
				Package: "time", Receiver: "Duration", Name: "String", Results: []string{"string"},
			},
			want: "time.Duration.String() string",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.descriptor.String(); got != test.want {
				t.Errorf("String() = %q, want %q", got, test.want)
			}
			if got := test.descriptor.QualifiedName(); !strings.HasPrefix(test.want, got+"(") {
				t.Errorf("QualifiedName() = %q, not a prefix of %q", got, test.want)
			}
		})
	}
}

func TestFingerprintsSeparateDomainsAndFields(t *testing.T) {
	method := MethodDescriptor{Package: "db", Name: "query"}
	same := MethodDescriptor{Package: "db", Name: "query"}
	other := MethodDescriptor{Package: "db", Name: "exec"}

	if method.Fingerprint() != same.Fingerprint() {
		t.Fatal("equal descriptors produced different fingerprints")
	}
	if method.Fingerprint() == other.Fingerprint() {
		t.Fatal("different descriptors produced the same fingerprint")
	}

	sensor := SensorTypeDescriptor{Name: "db.query()", Kind: MethodSensor}
	if sensor.Fingerprint() == method.Fingerprint() {
		t.Fatal("sensor type and method share a fingerprint domain")
	}
}

func TestSensorTypeFingerprintIgnoresSettingsOrder(t *testing.T) {
	first := SensorTypeDescriptor{Name: "timer", Kind: MethodSensor, Settings: map[string]string{"a": "1", "b": "2"}}
	second := SensorTypeDescriptor{Name: "timer", Kind: MethodSensor, Settings: map[string]string{"b": "2", "a": "1"}}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("settings order changed the fingerprint")
	}
	second.Settings["a"] = "3"
	if first.Fingerprint() == second.Fingerprint() {
		t.Fatal("settings value did not change the fingerprint")
	}
}

func TestPlatformFingerprintIgnoresInstance(t *testing.T) {
	first := PlatformDescriptor{AgentName: "checkout", Hostname: "web-1", InstanceID: "a"}
	second := first
	second.InstanceID = "b"
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("instance id changed the platform fingerprint")
	}
}

func TestFingerprintTextRoundTrip(t *testing.T) {
	original := MethodDescriptor{Package: "main", Name: "run"}.Fingerprint()
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var decoded Fingerprint
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != original {
		t.Fatalf("decoded %s, want %s", decoded, original)
	}
	if err := decoded.UnmarshalText([]byte("abc")); err == nil {
		t.Fatal("UnmarshalText accepted a short value")
	}
}

func TestIDValidity(t *testing.T) {
	if LocalID(0).Valid() || !LocalID(1).Valid() {
		t.Error("LocalID validity wrong")
	}
	if RemoteID(0).Known() || RemoteID(-1).Known() || !RemoteID(9).Known() {
		t.Error("RemoteID known wrong")
	}
	if got := RemoteID(0).String(); got != "remote:unknown" {
		t.Errorf("RemoteID(0).String() = %q", got)
	}
}
