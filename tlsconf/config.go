// Package tlsconf holds the generic TLS server configuration consumed by the
// listeners, and the sources that produce it.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoCertificate is returned when a Config carries no certificate or key.
	ErrNoCertificate = errors.New("tlsconf: no certificate")

	// ErrInvalidClientCA is returned when the client CA bundle holds no usable certificate.
	ErrInvalidClientCA = errors.New("tlsconf: invalid client CA bundle")
)

// ClientAuthPolicy controls client certificate verification.
type ClientAuthPolicy int

const (
	// NoClientAuth does not ask for client certificates.
	NoClientAuth ClientAuthPolicy = iota

	// VerifyClientIfGiven verifies a client certificate if the client sends one.
	VerifyClientIfGiven

	// RequireClientCert rejects clients without a valid certificate.
	RequireClientCert
)

// Config is a transport-independent TLS server configuration.
// A Config is a value: build a new one instead of modifying one in use.
type Config struct {
	// CertPEM is the PEM encoded certificate chain, leaf first.
	CertPEM []byte

	// KeyPEM is the PEM encoded private key of the leaf certificate.
	KeyPEM []byte

	// ClientCAPEM is the PEM encoded bundle used to verify client certificates.
	// It is required unless ClientAuth is NoClientAuth.
	ClientCAPEM []byte

	// ClientAuth is the client certificate policy.
	ClientAuth ClientAuthPolicy
}

// New returns a Config for the given certificate chain and key.
func New(certPEM, keyPEM []byte) *Config {
	return &Config{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}
}

// Load reads a certificate chain and key from files.
func Load(certFile, keyFile string) (*Config, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: failed to read key: %w", err)
	}
	return New(certPEM, keyPEM), nil
}

// WithClientAuth returns a copy of c that verifies clients against caPEM.
func (c *Config) WithClientAuth(policy ClientAuthPolicy, caPEM []byte) *Config {
	cc := *c
	cc.ClientAuth = policy
	cc.ClientCAPEM = caPEM
	return &cc
}

// Build builds the server crypto context. Every call returns a new *tls.Config.
func (c *Config) Build() (*tls.Config, error) {
	if c == nil || len(c.CertPEM) == 0 || len(c.KeyPEM) == 0 {
		return nil, ErrNoCertificate
	}

	cert, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: failed to load key pair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	switch c.ClientAuth {
	case NoClientAuth:
		tlsConfig.ClientAuth = tls.NoClientCert
	case VerifyClientIfGiven, RequireClientCert:
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.ClientCAPEM) {
			return nil, ErrInvalidClientCA
		}
		tlsConfig.ClientCAs = pool
		if c.ClientAuth == RequireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
	default:
		return nil, fmt.Errorf("tlsconf: unknown client auth policy %d", c.ClientAuth)
	}

	return tlsConfig, nil
}
