// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"
)

func TestSession(t *testing.T) {
	underlying := errors.New("connection reset")
	err := Session("forward", "abc-123", "10.0.0.1:52000", underlying)

	want := "forward [abc-123] 10.0.0.1:52000: connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, underlying) {
		t.Error("Session should unwrap to the underlying error")
	}

	var sessionErr *SessionError
	if !errors.As(err, &sessionErr) {
		t.Fatal("errors.As failed")
	}
	if sessionErr.Op != "forward" || sessionErr.SessionID != "abc-123" {
		t.Errorf("fields = %q/%q", sessionErr.Op, sessionErr.SessionID)
	}
}

func TestSession_NilError(t *testing.T) {
	if err := Session("accept", "id", "addr", nil); err != nil {
		t.Errorf("Session(nil) = %v, want nil", err)
	}
}

func TestSession_NoSessionID(t *testing.T) {
	err := Session("accept", "", "10.0.0.1:52000", errors.New("boom"))
	want := "accept 10.0.0.1:52000: boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	underlying := ErrUpstreamUnavailable
	err := Wrap(underlying, "dialing backend")

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("Wrap should preserve the error chain")
	}
	if err.Error() != "dialing backend: upstream unavailable" {
		t.Errorf("Error() = %q", err.Error())
	}

	if Wrap(nil, "anything") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
