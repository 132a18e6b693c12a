// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collectortest provides an in-memory collector that speaks
// the socket protocol. Tests use it as the far end of a real
// socket.Client; the tracehook-collector binary serves it for local
// experiments.
package collectortest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/tracehook/lib/codec"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/collector"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
	"github.com/bureau-foundation/tracehook/lib/transport/socket"
	"github.com/bureau-foundation/tracehook/lib/wire"
)

// Batch is one accepted ingest request, decoded.
type Batch struct {
	PlatformID  ident.RemoteID
	Sequence    uint64
	Compression wire.Compression
	Items       []measure.Item
}

type scopedKey struct {
	platform    ident.RemoteID
	fingerprint ident.Fingerprint
}

type mappingKey struct {
	platform   ident.RemoteID
	sensorType ident.RemoteID
	method     ident.RemoteID
}

// Collector keeps everything it is sent. It is safe for concurrent
// use.
type Collector struct {
	logger *slog.Logger

	mu           sync.Mutex
	lastID       ident.RemoteID
	platformIDs  map[ident.Fingerprint]ident.RemoteID
	platforms    map[ident.RemoteID]ident.PlatformDescriptor
	methodIDs    map[scopedKey]ident.RemoteID
	methods      map[ident.RemoteID]ident.MethodDescriptor
	sensorIDs    map[scopedKey]ident.RemoteID
	sensorTypes  map[ident.RemoteID]ident.SensorTypeDescriptor
	mappings     map[mappingKey]bool
	keepAlives   map[ident.RemoteID]int
	unregistered []ident.RemoteID
	batches      []Batch
	rejections   map[string]string

	ingested chan Batch
}

// New returns an empty collector. logger receives one line per
// accepted request.
func New(logger *slog.Logger) *Collector {
	return &Collector{
		logger:      logger,
		platformIDs: make(map[ident.Fingerprint]ident.RemoteID),
		platforms:   make(map[ident.RemoteID]ident.PlatformDescriptor),
		methodIDs:   make(map[scopedKey]ident.RemoteID),
		methods:     make(map[ident.RemoteID]ident.MethodDescriptor),
		sensorIDs:   make(map[scopedKey]ident.RemoteID),
		sensorTypes: make(map[ident.RemoteID]ident.SensorTypeDescriptor),
		mappings:    make(map[mappingKey]bool),
		keepAlives:  make(map[ident.RemoteID]int),
		rejections:  make(map[string]string),
		ingested:    make(chan Batch, 1024),
	}
}

// Register installs the collector's handlers on server.
func (c *Collector) Register(server *socket.Server) {
	server.Handle(collector.OpRegisterPlatform, handle(c.registerPlatform))
	server.Handle(collector.OpRegisterMethod, handle(c.registerMethod))
	server.Handle(collector.OpRegisterSensorType, handle(c.registerSensorType))
	server.Handle(collector.OpMapSensorTypeToMethod, handle(c.mapSensorType))
	server.Handle(collector.OpIngest, handle(c.ingest))
	server.Handle(collector.OpKeepAlive, handle(c.keepAlive))
	server.Handle(collector.OpUnregisterPlatform, handle(c.unregister))
}

// handle decodes the request body into R before calling handler.
func handle[R any](handler func(R) (any, error)) socket.HandlerFunc {
	return func(_ context.Context, data codec.RawMessage) (any, error) {
		var request R
		if err := codec.Unmarshal(data, &request); err != nil {
			return nil, fmt.Errorf("decoding request: %w", err)
		}
		return handler(request)
	}
}

// Reject makes every later request for operation fail with message
// until Accept is called.
func (c *Collector) Reject(operation, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections[operation] = message
}

// Accept undoes Reject.
func (c *Collector) Accept(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rejections, operation)
}

// Forget drops every record of platform, as a restarted collector
// would. Later requests naming it are rejected as unknown and a new
// registration gets a new id.
func (c *Collector) Forget(platform ident.RemoteID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgetLocked(platform)
}

func (c *Collector) forgetLocked(platform ident.RemoteID) {
	delete(c.platforms, platform)
	for fingerprint, id := range c.platformIDs {
		if id == platform {
			delete(c.platformIDs, fingerprint)
		}
	}
	for key := range c.methodIDs {
		if key.platform == platform {
			delete(c.methodIDs, key)
		}
	}
	for key := range c.sensorIDs {
		if key.platform == platform {
			delete(c.sensorIDs, key)
		}
	}
	delete(c.keepAlives, platform)
}

func (c *Collector) checkLocked(operation string, platform ident.RemoteID) error {
	if message, ok := c.rejections[operation]; ok {
		return errors.New(message)
	}
	if operation == collector.OpRegisterPlatform {
		return nil
	}
	if _, ok := c.platforms[platform]; !ok {
		return errors.New(collector.UnknownPlatformMessage)
	}
	return nil
}

func (c *Collector) nextIDLocked() ident.RemoteID {
	c.lastID++
	return c.lastID
}

func (c *Collector) registerPlatform(request collector.RegisterPlatformRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(collector.OpRegisterPlatform, 0); err != nil {
		return nil, err
	}
	id, ok := c.platformIDs[request.Fingerprint]
	if !ok {
		id = c.nextIDLocked()
		c.platformIDs[request.Fingerprint] = id
	}
	c.platforms[id] = request.Platform
	c.logger.Info("platform registered", "platform", id, "agent", request.Platform.AgentName)
	return collector.RegisterResponse{ID: id}, nil
}

func (c *Collector) registerMethod(request collector.RegisterMethodRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(collector.OpRegisterMethod, request.PlatformID); err != nil {
		return nil, err
	}
	key := scopedKey{platform: request.PlatformID, fingerprint: request.Fingerprint}
	id, ok := c.methodIDs[key]
	if !ok {
		id = c.nextIDLocked()
		c.methodIDs[key] = id
	}
	c.methods[id] = request.Method
	c.logger.Debug("method registered", "method", id, "name", request.Method.String())
	return collector.RegisterResponse{ID: id}, nil
}

func (c *Collector) registerSensorType(request collector.RegisterSensorTypeRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(collector.OpRegisterSensorType, request.PlatformID); err != nil {
		return nil, err
	}
	key := scopedKey{platform: request.PlatformID, fingerprint: request.Fingerprint}
	id, ok := c.sensorIDs[key]
	if !ok {
		id = c.nextIDLocked()
		c.sensorIDs[key] = id
	}
	c.sensorTypes[id] = request.SensorType
	c.logger.Debug("sensor type registered", "sensor_type", id, "name", request.SensorType.Name)
	return collector.RegisterResponse{ID: id}, nil
}

func (c *Collector) mapSensorType(request collector.MapSensorTypeToMethodRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(collector.OpMapSensorTypeToMethod, request.PlatformID); err != nil {
		return nil, err
	}
	c.mappings[mappingKey{request.PlatformID, request.SensorTypeID, request.MethodID}] = true
	return nil, nil
}

func (c *Collector) ingest(request collector.IngestRequest) (any, error) {
	items, err := wire.Decode(request.Frame)
	if err != nil {
		return nil, err
	}
	batch := Batch{
		PlatformID:  request.PlatformID,
		Sequence:    request.Sequence,
		Compression: request.Frame.Compression,
		Items:       items,
	}

	c.mu.Lock()
	if err := c.checkLocked(collector.OpIngest, request.PlatformID); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.batches = append(c.batches, batch)
	c.mu.Unlock()

	c.logger.Info("batch ingested",
		"platform", request.PlatformID,
		"sequence", request.Sequence,
		"items", len(items),
		"compression", request.Frame.Compression,
	)
	select {
	case c.ingested <- batch:
	default:
	}
	return nil, nil
}

func (c *Collector) keepAlive(request collector.KeepAliveRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(collector.OpKeepAlive, request.PlatformID); err != nil {
		return nil, err
	}
	c.keepAlives[request.PlatformID]++
	return nil, nil
}

func (c *Collector) unregister(request collector.UnregisterPlatformRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(collector.OpUnregisterPlatform, request.PlatformID); err != nil {
		return nil, err
	}
	c.unregistered = append(c.unregistered, request.PlatformID)
	delete(c.platforms, request.PlatformID)
	c.logger.Info("platform unregistered", "platform", request.PlatformID, "agent", request.AgentName)
	return nil, nil
}

// Ingested delivers accepted batches. It is buffered; batches are not
// delivered once the buffer is full, but Batches still records them.
func (c *Collector) Ingested() <-chan Batch { return c.ingested }

// Batches returns every accepted batch in arrival order.
func (c *Collector) Batches() []Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Batch(nil), c.batches...)
}

// Items returns the items of every accepted batch in arrival order.
func (c *Collector) Items() []measure.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	var items []measure.Item
	for _, batch := range c.batches {
		items = append(items, batch.Items...)
	}
	return items
}

// Platform returns the descriptor registered under id.
func (c *Collector) Platform(id ident.RemoteID) (ident.PlatformDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	platform, ok := c.platforms[id]
	return platform, ok
}

// Platforms returns the ids of registered platforms in ascending order.
func (c *Collector) Platforms() []ident.RemoteID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]ident.RemoteID, 0, len(c.platforms))
	for id := range c.platforms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Method returns the descriptor registered under id.
func (c *Collector) Method(id ident.RemoteID) (ident.MethodDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	method, ok := c.methods[id]
	return method, ok
}

// SensorType returns the descriptor registered under id.
func (c *Collector) SensorType(id ident.RemoteID) (ident.SensorTypeDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sensorType, ok := c.sensorTypes[id]
	return sensorType, ok
}

// Mapped reports whether sensorType was mapped to method on platform.
func (c *Collector) Mapped(platform, sensorType, method ident.RemoteID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mappings[mappingKey{platform, sensorType, method}]
}

// KeepAlives returns how many keep-alives platform has sent.
func (c *Collector) KeepAlives(platform ident.RemoteID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlives[platform]
}

// Unregistered returns the platforms that unregistered, in order.
func (c *Collector) Unregistered() []ident.RemoteID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ident.RemoteID(nil), c.unregistered...)
}
