// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package observer defines notification callbacks for session events.
//
// Observers are strictly passive: the proxy calls them as sessions open,
// carry commands, move bytes, and close, and nothing an observer does can
// reject a session or alter the forwarded stream. Statistics, metrics, and
// logging all attach through this one interface, composed with Multi.
package observer

import (
	"context"
	"log/slog"
	"time"
)

// Direction indicates the direction of byte flow within a session.
type Direction int

const (
	// Upstream represents bytes flowing from client to backend server.
	Upstream Direction = iota

	// Downstream represents bytes flowing from backend server to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Context carries session metadata. It is created once per session and
// shared by every callback for that session.
type Context struct {
	// SessionID is a unique identifier for this session.
	SessionID string

	// ClientAddr is the client's network address.
	ClientAddr string

	// StartedAt is when both endpoints of the session were established.
	StartedAt time.Time

	// TLS reports whether the client side is encrypted.
	TLS bool
}

// Observer receives session lifecycle and traffic notifications.
//
// OnConnect fires once both the client and upstream endpoints exist;
// sessions that fail during accept or dial are never announced.
// OnDisconnect always follows an OnConnect, with a nil error for a clean
// close and the terminating error otherwise.
type Observer interface {
	// OnConnect is called when a session starts forwarding.
	OnConnect(ctx context.Context, c *Context)

	// OnCommand is called for each command observed on the
	// client-to-upstream direction. Names are upper-cased.
	OnCommand(ctx context.Context, c *Context, command string)

	// OnTraffic is called after a chunk of n bytes has been forwarded in
	// the given direction.
	OnTraffic(ctx context.Context, c *Context, dir Direction, n int)

	// OnDisconnect is called when the session has fully closed.
	OnDisconnect(ctx context.Context, c *Context, err error)
}

// Noop is an Observer that ignores all events. Embed it to implement only
// the callbacks of interest.
type Noop struct{}

var _ Observer = (*Noop)(nil)

func (Noop) OnConnect(ctx context.Context, c *Context)                       {}
func (Noop) OnCommand(ctx context.Context, c *Context, command string)       {}
func (Noop) OnTraffic(ctx context.Context, c *Context, dir Direction, n int) {}
func (Noop) OnDisconnect(ctx context.Context, c *Context, err error)         {}

type multi []Observer

// Multi fans every event out to each of the given observers, in order.
func Multi(observers ...Observer) Observer {
	return multi(observers)
}

func (m multi) OnConnect(ctx context.Context, c *Context) {
	for _, o := range m {
		o.OnConnect(ctx, c)
	}
}

func (m multi) OnCommand(ctx context.Context, c *Context, command string) {
	for _, o := range m {
		o.OnCommand(ctx, c, command)
	}
}

func (m multi) OnTraffic(ctx context.Context, c *Context, dir Direction, n int) {
	for _, o := range m {
		o.OnTraffic(ctx, c, dir, n)
	}
}

func (m multi) OnDisconnect(ctx context.Context, c *Context, err error) {
	for _, o := range m {
		o.OnDisconnect(ctx, c, err)
	}
}

// CommandRecorder counts commands by name.
type CommandRecorder interface {
	Record(command string)
}

type recorder struct {
	Noop
	r CommandRecorder
}

// Recorder adapts a CommandRecorder, such as a stats registry, into an
// Observer that records every observed command.
func Recorder(r CommandRecorder) Observer {
	return &recorder{r: r}
}

func (rec *recorder) OnCommand(ctx context.Context, c *Context, command string) {
	rec.r.Record(command)
}

// Logging is an Observer that logs session events.
type Logging struct {
	logger *slog.Logger
}

var _ Observer = (*Logging)(nil)

// NewLogging creates a logging observer.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

func (l *Logging) OnConnect(ctx context.Context, c *Context) {
	l.logger.Info("session established",
		slog.String("session", c.SessionID),
		slog.String("client", c.ClientAddr),
		slog.Bool("tls", c.TLS))
}

func (l *Logging) OnCommand(ctx context.Context, c *Context, command string) {
	l.logger.Debug("command",
		slog.String("session", c.SessionID),
		slog.String("command", command))
}

func (l *Logging) OnTraffic(ctx context.Context, c *Context, dir Direction, n int) {
	l.logger.Debug("traffic",
		slog.String("session", c.SessionID),
		slog.String("direction", dir.String()),
		slog.Int("bytes", n))
}

func (l *Logging) OnDisconnect(ctx context.Context, c *Context, err error) {
	if err != nil {
		l.logger.Info("session closed",
			slog.String("session", c.SessionID),
			slog.String("client", c.ClientAddr),
			slog.String("error", err.Error()))
		return
	}
	l.logger.Info("session closed",
		slog.String("session", c.SessionID),
		slog.String("client", c.ClientAddr))
}
