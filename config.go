// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package redproxy carries the environment-driven configuration for the
// proxy binary.
package redproxy

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"

	perrors "github.com/absmach/redproxy/pkg/errors"
	"github.com/absmach/redproxy/pkg/tlsutil"
	"github.com/absmach/redproxy/pkg/upstream"
)

// Config holds the full proxy configuration, parsed from the environment.
type Config struct {
	// Listener
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0:16379"`
	NoTLS         bool   `env:"NO_TLS"         envDefault:"false"`
	CertFile      string `env:"CERT_FILE"`
	KeyFile       string `env:"KEY_FILE"`

	// Upstream
	UpstreamAddress     string        `env:"UPSTREAM_ADDRESS"      envDefault:"127.0.0.1:6379"`
	UpstreamTLS         bool          `env:"UPSTREAM_TLS"          envDefault:"false"`
	UpstreamTLSHostname string        `env:"UPSTREAM_TLS_HOSTNAME"`
	UpstreamCAFile      string        `env:"UPSTREAM_CA_FILE"`
	DialTimeout         time.Duration `env:"DIAL_TIMEOUT"          envDefault:"10s"`

	// Forwarding
	BufferSize      int           `env:"BUFFER_SIZE"      envDefault:"8192"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Circuit breaker
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Observability
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`
}

// NewConfig parses and validates the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", perrors.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. Violations are fatal at startup,
// before any socket is opened.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("%w: listen address %q: %w", perrors.ErrInvalidConfig, c.ListenAddress, err)
	}
	if _, _, err := net.SplitHostPort(c.UpstreamAddress); err != nil {
		return fmt.Errorf("%w: upstream address %q: %w", perrors.ErrInvalidConfig, c.UpstreamAddress, err)
	}
	if !c.NoTLS {
		if c.CertFile == "" {
			return fmt.Errorf("%w: CERT_FILE is required when TLS is enabled (set NO_TLS to disable)", perrors.ErrInvalidConfig)
		}
		if c.KeyFile == "" {
			return fmt.Errorf("%w: KEY_FILE is required when TLS is enabled (set NO_TLS to disable)", perrors.ErrInvalidConfig)
		}
	}
	return nil
}

// ServerTLSConfig loads the listener TLS configuration, or nil when the
// listener is plain TCP.
func (c Config) ServerTLSConfig() (*tls.Config, error) {
	if c.NoTLS {
		return nil, nil
	}
	return tlsutil.LoadServerConfig(c.CertFile, c.KeyFile)
}

// UpstreamTLSConfig loads the upstream client TLS configuration, or nil
// when the upstream connection is plain TCP. The verification hostname is
// the configured override or the host portion of the upstream address.
func (c Config) UpstreamTLSConfig() (*tls.Config, error) {
	if !c.UpstreamTLS {
		return nil, nil
	}
	hostname := upstream.TLSHostname(c.UpstreamAddress, c.UpstreamTLSHostname)
	return tlsutil.LoadClientConfig(hostname, c.UpstreamCAFile)
}
