package quic

import (
	"crypto/tls"
	"time"

	"github.com/OkutaniDaichi0106/goh3/tlsconf"
	quicgo "github.com/quic-go/quic-go"
)

// Config contains configuration options for QUIC connections.
// See github.com/quic-go/quic-go.Config for available options.
type Config = quicgo.Config

// DefaultConfig returns the transport parameters used when none are given.
func DefaultConfig() *Config {
	return &Config{
		MaxIdleTimeout:     30 * time.Second,
		KeepAlivePeriod:    10 * time.Second,
		MaxIncomingStreams: 256,
		EnableDatagrams:    true,
		Allow0RTT:          false,
	}
}

// ServerConfig is the configuration a QUIC endpoint serves with: the TLS
// crypto context with the HTTP/3 ALPN list, and the QUIC transport parameters.
//
// A ServerConfig is immutable. In-flight handshakes may read it concurrently
// while a newer one is being installed.
type ServerConfig struct {
	tls  *tls.Config
	quic *Config
}

// NewServerConfig converts a generic TLS configuration into a ServerConfig.
// It fails with a *ConfigError if the crypto context cannot be built.
// The ALPN list is always ALPNProtocols(), whatever c asks for.
func NewServerConfig(c *tlsconf.Config) (*ServerConfig, error) {
	tlsConfig, err := c.Build()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return newServerConfig(tlsConfig, nil), nil
}

// NewServerConfigFromTLS is like NewServerConfig for an already built
// *tls.Config. tlsConfig is cloned and not modified.
//
// tlsConfig must carry Certificates or GetCertificate. GetConfigForClient is
// rejected with ErrConfigForClient: the acceptor resolves the configuration
// per ClientHello itself, so the hook would never run.
func NewServerConfigFromTLS(tlsConfig *tls.Config) (*ServerConfig, error) {
	if tlsConfig == nil || (len(tlsConfig.Certificates) == 0 && tlsConfig.GetCertificate == nil) {
		return nil, &ConfigError{Err: tlsconf.ErrNoCertificate}
	}
	if tlsConfig.GetConfigForClient != nil {
		return nil, &ConfigError{Err: ErrConfigForClient}
	}
	return newServerConfig(tlsConfig.Clone(), nil), nil
}

func newServerConfig(tlsConfig *tls.Config, quicConfig *Config) *ServerConfig {
	tlsConfig.NextProtos = ALPNProtocols()
	if tlsConfig.MinVersion < tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	if quicConfig == nil {
		quicConfig = DefaultConfig()
	}

	return &ServerConfig{
		tls:  tlsConfig,
		quic: quicConfig,
	}
}

// WithTransport returns a copy of c that uses the given transport parameters.
// A nil quicConfig selects DefaultConfig.
func (c *ServerConfig) WithTransport(quicConfig *Config) *ServerConfig {
	if quicConfig == nil {
		quicConfig = DefaultConfig()
	} else {
		quicConfig = quicConfig.Clone()
	}
	return &ServerConfig{
		tls:  c.tls,
		quic: quicConfig,
	}
}

// TLSConfig returns a copy of the TLS configuration.
func (c *ServerConfig) TLSConfig() *tls.Config {
	return c.tls.Clone()
}

// QUICConfig returns a copy of the QUIC transport parameters.
func (c *ServerConfig) QUICConfig() *Config {
	return c.quic.Clone()
}

// NextProtos returns the advertised ALPN list.
func (c *ServerConfig) NextProtos() []string {
	return append([]string(nil), c.tls.NextProtos...)
}
