// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport presents encrypted and plain sockets behind one duplex
// byte-stream interface so the forwarding engine never branches on the
// encryption mode.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	perrors "github.com/absmach/redproxy/pkg/errors"
)

// Conn is one endpoint of a proxied session: a duplex byte stream with
// write-side half-close. Both *net.TCPConn and *tls.Conn satisfy it, so
// once construction (and any handshake) is done the two are
// indistinguishable to callers.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// CloseWrite half-closes the connection: the peer observes EOF while
	// bytes it still has in flight toward us keep flowing.
	CloseWrite() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

var (
	_ Conn = (*net.TCPConn)(nil)
	_ Conn = (*tls.Conn)(nil)
)

// Accept wraps an inbound raw connection according to the server-side
// configuration. With a nil tls.Config the raw connection is used as is;
// otherwise the full server handshake runs before returning, and a failed
// handshake closes the connection and surfaces as ErrHandshake so the
// candidate never reaches the forwarding engine.
func Accept(ctx context.Context, raw net.Conn, cfg *tls.Config) (Conn, error) {
	if cfg == nil {
		tcp, ok := raw.(*net.TCPConn)
		if !ok {
			raw.Close()
			return nil, fmt.Errorf("unexpected connection type %T", raw)
		}
		return tcp, nil
	}

	conn := tls.Server(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", perrors.ErrHandshake, err)
	}
	return conn, nil
}

// Dial opens an outbound connection to address. With a non-nil tls.Config
// the client handshake, including hostname verification against
// cfg.ServerName, completes before returning; verification failure is a
// handshake error, never ignored.
func Dial(ctx context.Context, address string, cfg *tls.Config, timeout time.Duration) (Conn, error) {
	d := net.Dialer{Timeout: timeout}
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	if cfg == nil {
		return raw.(*net.TCPConn), nil
	}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", perrors.ErrHandshake, err)
	}
	return conn, nil
}
