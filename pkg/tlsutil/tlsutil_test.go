// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/absmach/redproxy/pkg/errors"
)

// writeTestPEM generates a self-signed certificate and writes cert and key
// PEM files into a temp dir.
func writeTestPEM(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("writing cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	return certFile, keyFile
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile := writeTestPEM(t)

	cfg, err := LoadServerConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadServerConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
}

func TestLoadServerConfig_MissingFiles(t *testing.T) {
	_, err := LoadServerConfig("missing-cert.pem", "missing-key.pem")
	if !errors.Is(err, perrors.ErrInvalidConfig) {
		t.Errorf("LoadServerConfig() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadServerConfig_MismatchedPair(t *testing.T) {
	certFile, _ := writeTestPEM(t)
	_, otherKey := writeTestPEM(t)

	_, err := LoadServerConfig(certFile, otherKey)
	if !errors.Is(err, perrors.ErrInvalidConfig) {
		t.Errorf("LoadServerConfig() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig("redis.example.com", "")
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.ServerName != "redis.example.com" {
		t.Errorf("ServerName = %q, want redis.example.com", cfg.ServerName)
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs set without a CA file, want system roots (nil)")
	}
}

func TestLoadClientConfig_CAFile(t *testing.T) {
	certFile, _ := writeTestPEM(t)

	cfg, err := LoadClientConfig("localhost", certFile)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not populated from CA file")
	}
}

func TestLoadClientConfig_BadCAFile(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	cases := []struct {
		desc   string
		caFile string
	}{
		{desc: "missing file", caFile: filepath.Join(dir, "absent.pem")},
		{desc: "no certificates in file", caFile: garbage},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := LoadClientConfig("localhost", tc.caFile)
			if !errors.Is(err, perrors.ErrInvalidConfig) {
				t.Errorf("LoadClientConfig() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
