// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/tracehook/lib/codec"
	"github.com/bureau-foundation/tracehook/lib/remote"
)

// Client implements remote.Transport over a stream socket.
//
// There is no long-lived connection. IsConnected reports whether the
// last dial succeeded: a failed dial or exchange marks the client
// disconnected, and the next Connect probes the collector again.
type Client struct {
	network string
	address string

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewClient returns a client for the collector at address. network is
// "unix" or "tcp".
func NewClient(network, address string) (*Client, error) {
	switch network {
	case "unix", "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("socket client: unsupported network %q", network)
	}
	if address == "" {
		return nil, fmt.Errorf("socket client: address is required")
	}
	return &Client{network: network, address: address}, nil
}

// Connect dials the collector once to check that it is accepting
// connections.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("connecting to %s: %w", c.address, net.ErrClosed)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// IsConnected reports whether the collector was reachable on the last
// attempt.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close marks the client closed. Later calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

// Call sends request under operation and decodes the response data
// into response, which may be nil.
func (c *Client) Call(ctx context.Context, operation string, request, response any) error {
	data, err := codec.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", operation, err)
	}

	reply, err := c.exchange(ctx, Request{Action: operation, Data: data})
	if err != nil {
		c.setConnected(false)
		return fmt.Errorf("calling %s on %s: %w", operation, c.address, err)
	}

	if !reply.OK {
		return &remote.RejectedError{Operation: operation, Message: reply.Error}
	}
	if response != nil && len(reply.Data) > 0 {
		if err := codec.Unmarshal(reply.Data, response); err != nil {
			return fmt.Errorf("decoding %s response: %w", operation, err)
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		c.setConnected(false)
		return nil, fmt.Errorf("connecting to %s: %w", c.address, err)
	}
	c.setConnected(true)
	return conn, nil
}

func (c *Client) exchange(ctx context.Context, request Request) (*Response, error) {
	if c.isClosed() {
		return nil, net.ErrClosed
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(readTimeout) //nolint:realclock // socket deadlines are wall-clock
	}
	conn.SetDeadline(deadline)
	// Cancellation interrupts blocked reads and writes.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		closer.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected && !c.closed
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
