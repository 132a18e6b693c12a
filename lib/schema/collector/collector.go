// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector defines the operations the agent invokes on the
// collector and their request and response bodies. Every transport
// carries the same types; only the framing differs.
package collector

import (
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/wire"
)

// Operation names.
const (
	OpRegisterPlatform      = "register_platform"
	OpRegisterMethod        = "register_method"
	OpRegisterSensorType    = "register_sensor_type"
	OpMapSensorTypeToMethod = "map_sensor_type_method"
	OpIngest                = "ingest"
	OpKeepAlive             = "keep_alive"
	OpUnregisterPlatform    = "unregister_platform"
)

// UnknownPlatformMessage is the rejection message the collector uses
// when a request names a platform it has no record of. The agent
// reacts by registering again from scratch.
const UnknownPlatformMessage = "unknown platform"

type RegisterPlatformRequest struct {
	Platform    ident.PlatformDescriptor `json:"platform"`
	Fingerprint ident.Fingerprint        `json:"fingerprint"`
}

type RegisterMethodRequest struct {
	PlatformID  ident.RemoteID         `json:"platform_id"`
	Method      ident.MethodDescriptor `json:"method"`
	Fingerprint ident.Fingerprint      `json:"fingerprint"`
}

type RegisterSensorTypeRequest struct {
	PlatformID  ident.RemoteID             `json:"platform_id"`
	SensorType  ident.SensorTypeDescriptor `json:"sensor_type"`
	Fingerprint ident.Fingerprint          `json:"fingerprint"`
}

// RegisterResponse carries the id assigned by any register operation.
type RegisterResponse struct {
	ID ident.RemoteID `json:"id"`
}

type MapSensorTypeToMethodRequest struct {
	PlatformID   ident.RemoteID `json:"platform_id"`
	SensorTypeID ident.RemoteID `json:"sensor_type_id"`
	MethodID     ident.RemoteID `json:"method_id"`
}

// IngestRequest delivers one batch. Sequence increases per batch sent
// by an agent process so the collector can detect redelivery.
type IngestRequest struct {
	PlatformID ident.RemoteID `json:"platform_id"`
	Sequence   uint64         `json:"sequence"`
	Frame      wire.Frame     `json:"frame"`
}

type KeepAliveRequest struct {
	PlatformID ident.RemoteID `json:"platform_id"`
}

type UnregisterPlatformRequest struct {
	PlatformID ident.RemoteID `json:"platform_id"`
	AgentName  string         `json:"agent_name"`
}
