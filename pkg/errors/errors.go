// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for redproxy.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidConfig indicates invalid startup configuration. It is the
	// only error class that is fatal to the process.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrHandshake indicates a TLS handshake or certificate verification
	// failure on either the accept or the dial side.
	ErrHandshake = errors.New("tls handshake failed")

	// ErrUpstreamUnavailable indicates the upstream server could not be
	// reached or refused the connection.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// SessionError wraps an error with per-session context.
type SessionError struct {
	Op         string // Operation that failed (accept, connect, forward)
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// Session creates a new SessionError.
func Session(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
