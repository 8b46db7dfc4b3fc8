// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package upstream connects proxy sessions to the backend server.
package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/redproxy/pkg/breaker"
	perrors "github.com/absmach/redproxy/pkg/errors"
	"github.com/absmach/redproxy/pkg/transport"
)

// Config holds the upstream connector configuration.
type Config struct {
	// Address is the backend server address (host:port).
	Address string

	// TLSConfig enables TLS toward the backend when non-nil. Its
	// ServerName must already carry the verification hostname.
	TLSConfig *tls.Config

	// DialTimeout bounds connection establishment, handshake included.
	DialTimeout time.Duration

	// Logger for connector events.
	Logger *slog.Logger
}

// Connector establishes one fresh backend connection per session. There is
// no pooling and no retrying: a session either gets its own upstream
// endpoint or fails.
type Connector struct {
	config  Config
	breaker *breaker.Breaker
}

// New creates a connector. The breaker is optional; when present it rejects
// dials fast while the backend is known to be down.
func New(cfg Config, b *breaker.Breaker) *Connector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Connector{config: cfg, breaker: b}
}

// Address returns the configured backend address.
func (c *Connector) Address() string {
	return c.config.Address
}

// Connect dials the backend and, when TLS is configured, completes the
// client handshake with hostname verification before returning. Failures
// surface as ErrUpstreamUnavailable.
func (c *Connector) Connect(ctx context.Context) (transport.Conn, error) {
	var conn transport.Conn
	dial := func() error {
		var err error
		conn, err = transport.Dial(ctx, c.config.Address, c.config.TLSConfig, c.config.DialTimeout)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(dial)
	} else {
		err = dial()
	}
	if err != nil {
		c.config.Logger.Debug("upstream dial failed",
			slog.String("address", c.config.Address),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", perrors.ErrUpstreamUnavailable, err)
	}
	return conn, nil
}

// TLSHostname resolves the hostname used to verify the upstream
// certificate: the explicit override when provided, else the host portion
// of the upstream address.
func TLSHostname(address, override string) string {
	if override != "" {
		return override
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}
