// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	perrors "github.com/absmach/redproxy/pkg/errors"
	"github.com/absmach/redproxy/pkg/observer"
	"github.com/absmach/redproxy/pkg/resp"
	"github.com/absmach/redproxy/pkg/transport"
	"github.com/absmach/redproxy/pkg/upstream"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the proxy server configuration.
type Config struct {
	// Address is the listen address (host:port).
	Address string

	// TLSConfig enables TLS termination on the listener when non-nil.
	// The mode is static configuration, never auto-detected per connection.
	TLSConfig *tls.Config

	// BufferSize is the per-direction copy buffer size in bytes.
	BufferSize int

	// ShutdownTimeout is the maximum time to wait for active sessions to
	// drain during graceful shutdown. After this timeout, remaining
	// sessions are forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server events.
	Logger *slog.Logger
}

// Server accepts client connections and forwards each to its own fresh
// upstream connection, observing commands on the way through.
type Server struct {
	config    Config
	connector *upstream.Connector
	observer  observer.Observer
	wg        sync.WaitGroup
	addr      atomic.Value // net.Addr once the listener is bound
}

// Addr returns the listener's bound address, or nil before Listen binds it.
// Useful when the configured address uses port 0.
func (s *Server) Addr() net.Addr {
	if a, ok := s.addr.Load().(net.Addr); ok {
		return a
	}
	return nil
}

// New creates a proxy server with the given configuration, connector, and
// observer.
func New(cfg Config, connector *upstream.Connector, obs observer.Observer) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 8192
	}
	if obs == nil {
		obs = observer.Noop{}
	}

	return &Server{
		config:    cfg,
		connector: connector,
		observer:  obs,
	}
}

// Listen starts the proxy and blocks until the context is cancelled. It
// implements graceful shutdown: the listener closes immediately, active
// sessions drain up to ShutdownTimeout, then stragglers are force-closed.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.addr.Store(listener.Addr())

	s.config.Logger.Info("proxy started",
		slog.String("address", listener.Addr().String()),
		slog.Bool("tls", s.config.TLSConfig != nil),
		slog.String("upstream", s.connector.Address()))

	// Sessions get their own context so draining and force-close are
	// controlled separately from the accept loop.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleSession(connCtx, conn); err != nil && !ignorable(err) {
					s.config.Logger.Debug("session error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all sessions closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing session closure")
		connCancel()
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// handleSession runs one session through its lifecycle: establish both
// endpoints, forward both directions until one side finishes, drain the
// other, release everything. Errors here terminate the session, never the
// process.
func (s *Server) handleSession(ctx context.Context, raw net.Conn) error {
	id := uuid.New().String()
	remote := raw.RemoteAddr().String()

	client, err := transport.Accept(ctx, raw, s.config.TLSConfig)
	if err != nil {
		return perrors.Session("accept", id, remote, err)
	}
	defer client.Close()

	srv, err := s.connector.Connect(ctx)
	if err != nil {
		// The client endpoint is never left open without an upstream.
		return perrors.Session("connect", id, remote, err)
	}
	defer srv.Close()

	// Blocked reads must observe cancellation: closing both endpoints on
	// ctx.Done unblocks the pumps with an error.
	stop := context.AfterFunc(ctx, func() {
		client.Close()
		srv.Close()
	})
	defer stop()

	octx := &observer.Context{
		SessionID:  id,
		ClientAddr: remote,
		StartedAt:  time.Now(),
		TLS:        s.config.TLSConfig != nil,
	}
	s.observer.OnConnect(ctx, octx)

	errCh := make(chan error, 2)

	// Client -> upstream, with command observation.
	go func() {
		errCh <- s.pump(ctx, client, srv, observer.Upstream, octx)
	}()

	// Upstream -> client, passthrough only.
	go func() {
		errCh <- s.pump(ctx, srv, client, observer.Downstream, octx)
	}()

	// First direction to finish half-closes the other endpoint's write
	// side (inside pump); wait for the remaining direction to drain.
	var sessionErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !ignorable(err) && sessionErr == nil {
			sessionErr = err
		}
	}

	s.observer.OnDisconnect(context.WithoutCancel(ctx), octx, sessionErr)

	if sessionErr != nil {
		return perrors.Session("forward", id, remote, sessionErr)
	}
	return nil
}

// pump copies one direction until EOF, error, or cancellation, preserving
// byte order and content exactly. On the client-to-upstream direction each
// chunk is run through the command parser before being written on,
// observation only. When the direction ends, the destination's write side
// is half-closed so the peer sees EOF while the opposite direction drains.
func (s *Server) pump(ctx context.Context, src, dst transport.Conn, dir observer.Direction, octx *observer.Context) error {
	defer dst.CloseWrite()

	var parser *resp.Parser
	if dir == observer.Upstream {
		parser = &resp.Parser{}
	}

	buf := make([]byte, s.config.BufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if parser != nil {
				for _, cmd := range parser.Feed(buf[:n]) {
					s.observer.OnCommand(ctx, octx, cmd)
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			s.observer.OnTraffic(ctx, octx, dir, n)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// ignorable reports whether err is a normal session termination cause
// rather than something worth surfacing.
func ignorable(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
