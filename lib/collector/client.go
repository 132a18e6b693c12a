// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector is the agent's typed view of the collector. Every
// operation goes through a remote.Caller, so the transport underneath
// (unix or TCP socket, Redis) is interchangeable.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/remote"
	"github.com/bureau-foundation/tracehook/lib/retry"
	schema "github.com/bureau-foundation/tracehook/lib/schema/collector"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
	"github.com/bureau-foundation/tracehook/lib/wire"
)

// Config configures a Client.
type Config struct {
	// Caller carries data operations (ingest, unregister) with its
	// configured retry policy.
	Caller *remote.Caller

	// AgentName is reported when unregistering.
	AgentName string

	// Compression is applied to ingest frames.
	Compression wire.Compression

	// Logger reports discarded frames. Optional.
	Logger *slog.Logger
}

// Client implements idmap.Registrar and dispatch.Sender.
//
// Registration and keep-alive make a single attempt per call: the
// registration loop and the keep-alive ticker already retry on their
// own schedule. Ingest uses the caller's full retry policy.
type Client struct {
	data        *remote.Caller
	singleShot  *remote.Caller
	agentName   string
	compression wire.Compression
	logger      *slog.Logger

	sequence atomic.Uint64
}

// NewClient validates config and returns a Client.
func NewClient(config Config) (*Client, error) {
	if config.Caller == nil {
		return nil, fmt.Errorf("collector client: Caller is required")
	}
	if config.Compression > wire.CompressionZstd {
		return nil, fmt.Errorf("collector client: unknown compression %s", config.Compression)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		data:        config.Caller,
		logger:      logger,
		singleShot:  config.Caller.WithPolicy(retry.FailFast()),
		agentName:   config.AgentName,
		compression: config.Compression,
	}, nil
}

func (c *Client) register(ctx context.Context, operation string, request any) (ident.RemoteID, error) {
	var response schema.RegisterResponse
	if err := c.singleShot.Call(ctx, operation, request, &response); err != nil {
		return 0, err
	}
	return response.ID, nil
}

func (c *Client) RegisterPlatform(ctx context.Context, platform ident.PlatformDescriptor) (ident.RemoteID, error) {
	return c.register(ctx, schema.OpRegisterPlatform, schema.RegisterPlatformRequest{
		Platform:    platform,
		Fingerprint: platform.Fingerprint(),
	})
}

func (c *Client) RegisterMethod(ctx context.Context, platform ident.RemoteID, method ident.MethodDescriptor) (ident.RemoteID, error) {
	return c.register(ctx, schema.OpRegisterMethod, schema.RegisterMethodRequest{
		PlatformID:  platform,
		Method:      method,
		Fingerprint: method.Fingerprint(),
	})
}

func (c *Client) RegisterSensorType(ctx context.Context, platform ident.RemoteID, sensorType ident.SensorTypeDescriptor) (ident.RemoteID, error) {
	return c.register(ctx, schema.OpRegisterSensorType, schema.RegisterSensorTypeRequest{
		PlatformID:  platform,
		SensorType:  sensorType,
		Fingerprint: sensorType.Fingerprint(),
	})
}

func (c *Client) MapSensorTypeToMethod(ctx context.Context, platform, sensorType, method ident.RemoteID) error {
	return c.singleShot.Call(ctx, schema.OpMapSensorTypeToMethod, schema.MapSensorTypeToMethodRequest{
		PlatformID:   platform,
		SensorTypeID: sensorType,
		MethodID:     method,
	}, nil)
}

// UnregisterPlatform is a notification: a strategy that stops early
// counts as delivered.
func (c *Client) UnregisterPlatform(ctx context.Context, platform ident.RemoteID) error {
	return c.singleShot.Notify(ctx, schema.OpUnregisterPlatform, schema.UnregisterPlatformRequest{
		PlatformID: platform,
		AgentName:  c.agentName,
	})
}

// KeepAlive tells the collector the platform is still running. A
// rejection carrying schema.UnknownPlatformMessage means the collector
// lost the registration; see IsUnknownPlatform.
func (c *Client) KeepAlive(ctx context.Context, platform ident.RemoteID) error {
	return c.singleShot.Call(ctx, schema.OpKeepAlive, schema.KeepAliveRequest{PlatformID: platform}, nil)
}

// Send ships items as ingest frames, one per run of consecutive items
// for the same platform. It stops at the first failed frame; the
// dispatcher then requeues the whole batch, so frames already accepted
// are delivered again.
//
// A frame rejected because the collector no longer knows its platform
// is discarded instead: its ids belong to a registration that is gone,
// and the keep-alive loop re-registers the platform under a new id.
func (c *Client) Send(ctx context.Context, items []measure.Item) error {
	for start := 0; start < len(items); {
		end := start + 1
		for end < len(items) && items[end].PlatformID == items[start].PlatformID {
			end++
		}
		err := c.ingest(ctx, items[start].PlatformID, items[start:end])
		switch {
		case err == nil:
		case IsUnknownPlatform(err):
			c.logger.Warn("discarding items for a platform the collector forgot",
				"platform_id", items[start].PlatformID,
				"items", end-start,
			)
		default:
			return err
		}
		start = end
	}
	return nil
}

func (c *Client) ingest(ctx context.Context, platform ident.RemoteID, items []measure.Item) error {
	frame, err := wire.Encode(items, c.compression)
	if err != nil {
		return fmt.Errorf("encoding ingest frame: %w", err)
	}
	return c.data.Call(ctx, schema.OpIngest, schema.IngestRequest{
		PlatformID: platform,
		Sequence:   c.sequence.Add(1),
		Frame:      frame,
	}, nil)
}

// IsUnknownPlatform reports whether err is the collector saying it has
// no record of the platform.
func IsUnknownPlatform(err error) bool {
	var rejected *remote.RejectedError
	return errors.As(err, &rejected) && rejected.Message == schema.UnknownPlatformMessage
}
