// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tlsutil loads PEM certificate material into tls configurations
// for the listener and the upstream client.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	perrors "github.com/absmach/redproxy/pkg/errors"
)

// LoadServerConfig builds the listener-side TLS configuration from PEM
// certificate and key files.
func LoadServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading certificate/key: %w", perrors.ErrInvalidConfig, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientConfig builds the upstream-side TLS configuration. The peer
// certificate is verified against serverName using the system roots, or
// against the CAs in caFile when given.
func LoadClientConfig(serverName, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", perrors.ErrInvalidConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", perrors.ErrInvalidConfig, caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
