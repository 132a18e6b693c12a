// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/tracehook/lib/codec"
	"github.com/bureau-foundation/tracehook/lib/netutil"
)

// HandlerFunc processes the data of one request. A returned value is
// CBOR-encoded into the response; a returned error becomes an OK=false
// response carrying its message.
type HandlerFunc func(ctx context.Context, data codec.RawMessage) (any, error)

// Server answers socket requests by dispatching on Request.Action.
// Register handlers with Handle before calling Serve.
type Server struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger

	active sync.WaitGroup
}

// NewServer returns a server with no handlers.
func NewServer(logger *slog.Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers handler for action. Panics on a duplicate action.
func (s *Server) Handle(action string, handler HandlerFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("socket.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Listen opens a listener, removing a stale unix socket file first.
func Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", address, err)
		}
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s %s: %w", network, address, err)
	}
	return listener, nil
}

// Serve accepts connections until ctx is cancelled, then closes
// listener and waits for in-flight requests.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()
	defer listener.Close()

	s.logger.Info("collector socket listening",
		"network", listener.Addr().Network(),
		"address", listener.Addr().String(),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:realclock // socket deadlines are wall-clock

	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Connect probe.
			return
		}
		if netutil.IsExpectedCloseError(err) {
			s.logger.Debug("client went away before sending a request", "error", err)
			return
		}
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if request.Action == "" {
		s.writeResponse(conn, Response{Error: "missing required field: action"})
		return
	}

	handler, exists := s.handlers[request.Action]
	if !exists {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("unknown action %q", request.Action)})
		return
	}

	result, err := handler(ctx, request.Data)
	if err != nil {
		s.logger.Debug("action failed", "action", request.Action, "error", err)
		s.writeResponse(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeResponse(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.writeResponse(conn, response)
}

func (s *Server) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:realclock // socket deadlines are wall-clock
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		if netutil.IsExpectedCloseError(err) {
			s.logger.Debug("client went away before the response", "error", err)
			return
		}
		s.logger.Warn("failed to write response", "error", err)
	}
}
