// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the connection acceptor and the per-session
// forwarding engine.
//
// # Session lifecycle
//
// Each accepted connection becomes one session:
//
//	Establishing: the client endpoint is accepted (TLS handshake if
//	              configured) and a fresh upstream endpoint is dialed.
//	              Failure of either step closes whatever exists and the
//	              session ends with no bytes forwarded.
//	Forwarding:   two pumps run concurrently, one per direction. Bytes
//	              are relayed in strict FIFO order within a direction and
//	              never altered. The client-to-upstream pump additionally
//	              feeds each chunk to the RESP parser and reports observed
//	              commands; the reverse pump is pure passthrough.
//	HalfClosed:   when one direction sees EOF or an error, the opposite
//	              endpoint's write side is half-closed and the remaining
//	              direction drains to its own EOF or error.
//	Closed:       both endpoints are released.
//
// Sessions are independent goroutines; an error in one never touches the
// listener or any other session. The only cross-session state is whatever
// the injected observer maintains.
//
// # Shutdown
//
// Cancelling the Listen context closes the listener immediately, so no new
// connections are accepted. In-flight sessions keep draining up to the
// configured ShutdownTimeout; after that their endpoints are force-closed,
// which wakes any blocked reads promptly.
package proxy
