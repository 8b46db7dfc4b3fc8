// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	perrors "github.com/absmach/redproxy/pkg/errors"
)

// testCert generates a self-signed certificate for localhost and a pool
// trusting it.
func testCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, pool
}

func TestAcceptDial_Plain(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan Conn, 1)
	go func() {
		raw, err := listener.Accept()
		if err != nil {
			return
		}
		conn, err := Accept(context.Background(), raw, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}()

	client, err := Dial(context.Background(), listener.Addr().String(), nil, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("read %q, want hello", buf)
	}

	// Half-close: the server sees EOF but can still write back.
	if err := client.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}
	if _, err := server.Read(buf); err != io.EOF {
		t.Errorf("expected EOF after half-close, got %v", err)
	}
	if _, err := server.Write([]byte("world")); err != nil {
		t.Fatalf("write after peer half-close: %v", err)
	}
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read after half-close: %v", err)
	}
	if string(buf) != "world" {
		t.Errorf("read %q, want world", buf)
	}
}

func TestAcceptDial_TLS(t *testing.T) {
	cert, pool := testCert(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	clientCfg := &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12}

	accepted := make(chan Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		raw, err := listener.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		conn, err := Accept(context.Background(), raw, serverCfg)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := Dial(context.Background(), listener.Addr().String(), clientCfg, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	var server Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept timeout")
	}
	defer server.Close()

	if _, err := client.Write([]byte("secret")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "secret" {
		t.Errorf("read %q, want secret", buf)
	}

	// Half-close works through TLS as well.
	if err := client.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}
	if _, err := server.Read(buf); err != io.EOF {
		t.Errorf("expected EOF after half-close, got %v", err)
	}
}

func TestDial_HandshakeFailure(t *testing.T) {
	// A plain listener that closes immediately cannot complete a TLS
	// handshake.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			raw, err := listener.Accept()
			if err != nil {
				return
			}
			raw.Close()
		}
	}()

	_, pool := testCert(t)
	cfg := &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12}

	_, err = Dial(context.Background(), listener.Addr().String(), cfg, time.Second)
	if !errors.Is(err, perrors.ErrHandshake) {
		t.Errorf("Dial() error = %v, want ErrHandshake", err)
	}
}

func TestDial_HostnameVerificationFailure(t *testing.T) {
	cert, pool := testCert(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	go func() {
		for {
			raw, err := listener.Accept()
			if err != nil {
				return
			}
			// The handshake fails from the server's side too; discard.
			Accept(context.Background(), raw, serverCfg)
		}
	}()

	cfg := &tls.Config{RootCAs: pool, ServerName: "wrong.example.com", MinVersion: tls.VersionTLS12}
	_, err = Dial(context.Background(), listener.Addr().String(), cfg, time.Second)
	if !errors.Is(err, perrors.ErrHandshake) {
		t.Errorf("Dial() error = %v, want ErrHandshake", err)
	}
}

func TestAccept_HandshakeFailure(t *testing.T) {
	cert, _ := testCert(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	result := make(chan error, 1)
	go func() {
		raw, err := listener.Accept()
		if err != nil {
			result <- err
			return
		}
		_, err = Accept(context.Background(), raw, serverCfg)
		result <- err
	}()

	// A client speaking plain text to a TLS listener breaks the handshake.
	raw, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	raw.Write([]byte("PING\r\nPING\r\nPING\r\nPING\r\n"))
	raw.Close()

	select {
	case err := <-result:
		if !errors.Is(err, perrors.ErrHandshake) {
			t.Errorf("Accept() error = %v, want ErrHandshake", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept timeout")
	}
}

func TestDial_ConnectionRefused(t *testing.T) {
	// Grab a port and close it so nothing is listening there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	_, err = Dial(context.Background(), addr, nil, 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if errors.Is(err, perrors.ErrHandshake) {
		t.Errorf("refused dial misreported as handshake error: %v", err)
	}
}
