// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/remote"
	"github.com/bureau-foundation/tracehook/lib/schema/collector"
)

// Defaults for zero Config fields.
const (
	DefaultPrefix       = "tracehook"
	DefaultKeepAliveTTL = 30 * time.Second
)

// assignID returns the id stored at KEYS[1], allocating one from the
// counter at KEYS[2] on first use. It runs atomically, so concurrent
// agents registering the same descriptor agree on the id.
var assignID = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if id then
	return tonumber(id)
end
id = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], id)
return id
`)

// Config configures a Transport.
type Config struct {
	// URL is a redis:// or rediss:// URL understood by redis.ParseURL.
	URL string

	// Prefix namespaces every key. Defaults to DefaultPrefix.
	Prefix string

	// KeepAliveTTL is how long a platform counts as alive after its
	// last keep-alive.
	KeepAliveTTL time.Duration

	// Clock stamps keep-alive markers. Defaults to clock.Real().
	Clock clock.Clock
}

// Transport implements remote.Transport against Redis.
type Transport struct {
	client       *redis.Client
	keys         keys
	keepAliveTTL time.Duration
	clock        clock.Clock

	mu        sync.Mutex
	connected bool
}

// New parses config.URL and returns an unconnected Transport.
func New(config Config) (*Transport, error) {
	options, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("redis transport: parsing URL: %w", err)
	}
	return NewWithClient(redis.NewClient(options), config), nil
}

// NewWithClient wraps an existing client. The Transport owns it and
// closes it on Close.
func NewWithClient(client *redis.Client, config Config) *Transport {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.KeepAliveTTL <= 0 {
		config.KeepAliveTTL = DefaultKeepAliveTTL
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Transport{
		client:       client,
		keys:         keys{prefix: config.Prefix},
		keepAliveTTL: config.KeepAliveTTL,
		clock:        config.Clock,
	}
}

// Connect pings the server.
func (t *Transport) Connect(ctx context.Context) error {
	err := t.client.Ping(ctx).Err()
	t.setConnected(err == nil)
	if err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// IsConnected reports whether the last exchange with Redis succeeded.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close closes the underlying client.
func (t *Transport) Close() error {
	t.setConnected(false)
	return t.client.Close()
}

func (t *Transport) setConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

// Call performs operation. request must be the collector schema type
// for the operation, and response a *collector.RegisterResponse for the
// register operations. Anything else is rejected without touching
// Redis.
func (t *Transport) Call(ctx context.Context, operation string, request, response any) error {
	err := t.dispatch(ctx, operation, request, response)
	var rejected *remote.RejectedError
	switch {
	case err == nil, errors.As(err, &rejected):
		t.setConnected(true)
	default:
		t.setConnected(false)
	}
	return err
}

func (t *Transport) dispatch(ctx context.Context, operation string, request, response any) error {
	switch request := request.(type) {
	case collector.RegisterPlatformRequest:
		return t.registerPlatform(ctx, operation, request, response)
	case collector.RegisterMethodRequest:
		return t.registerMethod(ctx, operation, request, response)
	case collector.RegisterSensorTypeRequest:
		return t.registerSensorType(ctx, operation, request, response)
	case collector.MapSensorTypeToMethodRequest:
		return t.mapSensorType(ctx, operation, request)
	case collector.IngestRequest:
		return t.ingest(ctx, operation, request)
	case collector.KeepAliveRequest:
		return t.keepAlive(ctx, operation, request)
	case collector.UnregisterPlatformRequest:
		return t.unregister(ctx, request)
	default:
		return &remote.RejectedError{
			Operation: operation,
			Message:   fmt.Sprintf("unsupported request type %T", request),
		}
	}
}

func (t *Transport) registerPlatform(ctx context.Context, operation string, request collector.RegisterPlatformRequest, response any) error {
	id, err := t.assign(ctx, t.keys.platform(request.Fingerprint))
	if err != nil {
		return fmt.Errorf("registering platform: %w", err)
	}
	if err := t.storeDescriptor(ctx, t.keys.platforms(), id, request.Platform); err != nil {
		return err
	}
	return setID(operation, response, id)
}

func (t *Transport) registerMethod(ctx context.Context, operation string, request collector.RegisterMethodRequest, response any) error {
	if err := t.requirePlatform(ctx, operation, request.PlatformID); err != nil {
		return err
	}
	id, err := t.assign(ctx, t.keys.method(request.PlatformID, request.Fingerprint))
	if err != nil {
		return fmt.Errorf("registering method: %w", err)
	}
	if err := t.storeDescriptor(ctx, t.keys.methods(request.PlatformID), id, request.Method); err != nil {
		return err
	}
	return setID(operation, response, id)
}

func (t *Transport) registerSensorType(ctx context.Context, operation string, request collector.RegisterSensorTypeRequest, response any) error {
	if err := t.requirePlatform(ctx, operation, request.PlatformID); err != nil {
		return err
	}
	id, err := t.assign(ctx, t.keys.sensorType(request.PlatformID, request.Fingerprint))
	if err != nil {
		return fmt.Errorf("registering sensor type: %w", err)
	}
	if err := t.storeDescriptor(ctx, t.keys.sensorTypes(request.PlatformID), id, request.SensorType); err != nil {
		return err
	}
	return setID(operation, response, id)
}

func (t *Transport) mapSensorType(ctx context.Context, operation string, request collector.MapSensorTypeToMethodRequest) error {
	if err := t.requirePlatform(ctx, operation, request.PlatformID); err != nil {
		return err
	}
	member := fmt.Sprintf("%d:%d", request.SensorTypeID, request.MethodID)
	if err := t.client.SAdd(ctx, t.keys.mappings(request.PlatformID), member).Err(); err != nil {
		return fmt.Errorf("storing mapping: %w", err)
	}
	return nil
}

func (t *Transport) ingest(ctx context.Context, operation string, request collector.IngestRequest) error {
	if err := t.requirePlatform(ctx, operation, request.PlatformID); err != nil {
		return err
	}
	encoded, err := marshal(request)
	if err != nil {
		return &remote.RejectedError{Operation: operation, Message: fmt.Sprintf("encoding batch: %v", err)}
	}
	if err := t.client.RPush(ctx, t.keys.ingest(), encoded).Err(); err != nil {
		return fmt.Errorf("queueing batch: %w", err)
	}
	return nil
}

func (t *Transport) keepAlive(ctx context.Context, operation string, request collector.KeepAliveRequest) error {
	if err := t.requirePlatform(ctx, operation, request.PlatformID); err != nil {
		return err
	}
	if err := t.client.Set(ctx, t.keys.alive(request.PlatformID), t.clock.Now().Unix(), t.keepAliveTTL).Err(); err != nil {
		return fmt.Errorf("refreshing keep-alive: %w", err)
	}
	return nil
}

func (t *Transport) unregister(ctx context.Context, request collector.UnregisterPlatformRequest) error {
	pipe := t.client.TxPipeline()
	pipe.HDel(ctx, t.keys.platforms(), formatID(request.PlatformID))
	pipe.Del(ctx, t.keys.alive(request.PlatformID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unregistering platform: %w", err)
	}
	return nil
}

func (t *Transport) assign(ctx context.Context, key string) (ident.RemoteID, error) {
	id, err := assignID.Run(ctx, t.client, []string{key, t.keys.counter()}).Int64()
	if err != nil {
		return 0, err
	}
	return ident.RemoteID(id), nil
}

func (t *Transport) storeDescriptor(ctx context.Context, hash string, id ident.RemoteID, descriptor any) error {
	encoded, err := marshal(descriptor)
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if err := t.client.HSet(ctx, hash, formatID(id), encoded).Err(); err != nil {
		return fmt.Errorf("storing descriptor: %w", err)
	}
	return nil
}

// requirePlatform rejects requests for platforms that are not
// registered, using the message the agent answers by registering
// again.
func (t *Transport) requirePlatform(ctx context.Context, operation string, platform ident.RemoteID) error {
	exists, err := t.client.HExists(ctx, t.keys.platforms(), formatID(platform)).Result()
	if err != nil {
		return fmt.Errorf("looking up platform: %w", err)
	}
	if !exists {
		return &remote.RejectedError{Operation: operation, Message: collector.UnknownPlatformMessage}
	}
	return nil
}

func setID(operation string, response any, id ident.RemoteID) error {
	if response == nil {
		return nil
	}
	target, ok := response.(*collector.RegisterResponse)
	if !ok {
		return &remote.RejectedError{
			Operation: operation,
			Message:   fmt.Sprintf("unsupported response type %T", response),
		}
	}
	target.ID = id
	return nil
}

func formatID(id ident.RemoteID) string {
	return strconv.FormatInt(int64(id), 10)
}

type keys struct {
	prefix string
}

func (k keys) key(parts ...string) string {
	key := k.prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

func (k keys) counter() string                     { return k.key("ids") }
func (k keys) platform(f ident.Fingerprint) string { return k.key("platform", f.String()) }
func (k keys) platforms() string                   { return k.key("platforms") }
func (k keys) method(p ident.RemoteID, f ident.Fingerprint) string {
	return k.key("method", formatID(p), f.String())
}
func (k keys) methods(p ident.RemoteID) string { return k.key("methods", formatID(p)) }
func (k keys) sensorType(p ident.RemoteID, f ident.Fingerprint) string {
	return k.key("sensor", formatID(p), f.String())
}
func (k keys) sensorTypes(p ident.RemoteID) string { return k.key("sensors", formatID(p)) }
func (k keys) mappings(p ident.RemoteID) string    { return k.key("mappings", formatID(p)) }
func (k keys) alive(p ident.RemoteID) string       { return k.key("alive", formatID(p)) }
func (k keys) ingest() string                      { return k.key("ingest") }
