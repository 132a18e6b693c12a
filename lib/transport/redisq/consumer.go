// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/collector"
)

// ErrEmpty is returned by Consumer.Next when no batch arrived within
// the wait.
var ErrEmpty = errors.New("redisq: no batch queued")

// Consumer is the collector side of the ingest queue.
type Consumer struct {
	client *redis.Client
	keys   keys
}

// NewConsumer reads the queue under prefix (DefaultPrefix when empty).
func NewConsumer(client *redis.Client, prefix string) *Consumer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Consumer{client: client, keys: keys{prefix: prefix}}
}

// Next pops the oldest queued batch, waiting up to wait for one to
// arrive.
func (c *Consumer) Next(ctx context.Context, wait time.Duration) (collector.IngestRequest, error) {
	result, err := c.client.BLPop(ctx, wait, c.keys.ingest()).Result()
	if errors.Is(err, redis.Nil) {
		return collector.IngestRequest{}, ErrEmpty
	}
	if err != nil {
		return collector.IngestRequest{}, fmt.Errorf("popping batch: %w", err)
	}
	// BLPOP answers [key, value].
	var request collector.IngestRequest
	if err := unmarshal([]byte(result[1]), &request); err != nil {
		return collector.IngestRequest{}, fmt.Errorf("decoding batch: %w", err)
	}
	return request, nil
}

// Platform returns the stored descriptor of a registered platform.
func (c *Consumer) Platform(ctx context.Context, id ident.RemoteID) (ident.PlatformDescriptor, error) {
	data, err := c.client.HGet(ctx, c.keys.platforms(), formatID(id)).Bytes()
	if err != nil {
		return ident.PlatformDescriptor{}, fmt.Errorf("loading platform %s: %w", id, err)
	}
	var descriptor ident.PlatformDescriptor
	if err := unmarshal(data, &descriptor); err != nil {
		return ident.PlatformDescriptor{}, fmt.Errorf("decoding platform %s: %w", id, err)
	}
	return descriptor, nil
}

// Alive reports whether the platform sent a keep-alive within the TTL.
func (c *Consumer) Alive(ctx context.Context, id ident.RemoteID) (bool, error) {
	count, err := c.client.Exists(ctx, c.keys.alive(id)).Result()
	if err != nil {
		return false, fmt.Errorf("checking keep-alive: %w", err)
	}
	return count == 1, nil
}
