package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/OkutaniDaichi0106/goh3/configstream"
	"github.com/OkutaniDaichi0106/goh3/fuse"
	"github.com/OkutaniDaichi0106/goh3/tlsconf"
	quicgo "github.com/quic-go/quic-go"
)

// AcceptorState is the lifecycle state of an Acceptor.
type AcceptorState int32

const (
	StateNoConfig AcceptorState = iota
	StateReady
	StateClosed
)

func (s AcceptorState) String() string {
	switch s {
	case StateNoConfig:
		return "no-config"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("acceptor_state(%d)", int32(s))
	}
}

// Options configures an Acceptor and the connections it hands out.
type Options struct {
	/*
	 * QUIC transport parameters applied with every server configuration.
	 * If nil, DefaultConfig is used.
	 */
	QUICConfig *Config

	/*
	 * HTTP/3 options shared by every accepted connection.
	 */
	Builder *Builder

	/*
	 * Health sink for configuration and connection events.
	 */
	Fusewire fuse.Fusewire

	/*
	 * Logger
	 */
	Logger *slog.Logger
}

// Acceptor owns a QUIC endpoint. It serves with the newest configuration of
// its config stream and accepts connections on the same socket for its whole
// lifetime: a new configuration is swapped in place, the socket is never
// rebound, and established connections are not touched.
type Acceptor struct {
	conn      net.PacketConn
	ownsConn  bool
	transport *quicgo.Transport
	ln        *quicgo.EarlyListener

	current    atomic.Pointer[ServerConfig]
	generation atomic.Uint64
	state      atomic.Int32

	quicConfig *Config
	builder    *Builder
	fusewire   fuse.Fusewire
	logger     *slog.Logger

	stopWatch  context.CancelFunc
	watchDone  chan struct{}
	closeOnce  sync.Once
	closeError error
}

// NewAcceptor waits for the first configuration of configs and starts
// accepting QUIC connections on conn. Further configurations are applied in
// the background until the stream ends or the acceptor is closed.
//
// It fails with ErrNoConfig if the stream ends first, and with a *ConfigError
// if the first configuration is invalid.
func NewAcceptor(ctx context.Context, conn net.PacketConn, configs configstream.IntoConfigStream[*tlsconf.Config], opts *Options) (*Acceptor, error) {
	stream := configstream.Of(configs)
	return newAcceptor(ctx, conn, func(ctx context.Context) (*ServerConfig, error) {
		c, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		return NewServerConfig(c)
	}, opts)
}

// NewServerConfigAcceptor is like NewAcceptor for a stream of configurations
// that are already converted, such as the ones NewServerConfigFromTLS returns.
// A nil configuration is rejected with a *ConfigError.
func NewServerConfigAcceptor(ctx context.Context, conn net.PacketConn, configs configstream.IntoConfigStream[*ServerConfig], opts *Options) (*Acceptor, error) {
	stream := configstream.Of(configs)
	return newAcceptor(ctx, conn, func(ctx context.Context) (*ServerConfig, error) {
		sc, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			return nil, &ConfigError{Err: tlsconf.ErrNoCertificate}
		}
		return sc, nil
	}, opts)
}

// nextConfig yields the next server configuration. A *ConfigError rejects
// one configuration; any other error ends the stream.
type nextConfig func(ctx context.Context) (*ServerConfig, error)

func newAcceptor(ctx context.Context, conn net.PacketConn, next nextConfig, opts *Options) (*Acceptor, error) {
	if opts == nil {
		opts = &Options{}
	}

	a := &Acceptor{
		conn:       conn,
		quicConfig: opts.QUICConfig,
		builder:    opts.Builder,
		fusewire:   opts.Fusewire,
		watchDone:  make(chan struct{}),
	}
	if a.builder == nil {
		a.builder = &Builder{Logger: opts.Logger}
	}
	if opts.Logger != nil {
		a.logger = opts.Logger.With("address", conn.LocalAddr().String())
	}

	first, err := next(ctx)
	if err != nil {
		var configErr *ConfigError
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrNoConfig
		case errors.As(err, &configErr):
			if a.logger != nil {
				a.logger.Error("invalid initial server configuration", "error", err)
			}
		}
		return nil, err
	}
	a.current.Store(a.withTransport(first))
	a.generation.Add(1)

	a.transport = &quicgo.Transport{Conn: conn}
	ln, err := a.transport.ListenEarly(a.baseTLSConfig(), a.baseQUICConfig())
	if err != nil {
		a.transport.Close()
		return nil, &TransportError{Err: err}
	}
	a.ln = ln
	a.state.Store(int32(StateReady))

	if a.logger != nil {
		a.logger.Debug("listening for QUIC connections")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	go a.watch(watchCtx, next)

	return a, nil
}

// Accept waits for the next QUIC connection.
//
// A done ctx only ends this call. Any other failure of the endpoint is fatal:
// it is returned as a *TransportError and the acceptor is closed.
func (a *Acceptor) Accept(ctx context.Context) (*H3Conn, error) {
	if a.State() == StateClosed {
		return nil, ErrAcceptorClosed
	}

	conn, err := a.ln.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if a.State() == StateClosed {
			return nil, ErrAcceptorClosed
		}

		if a.logger != nil {
			a.logger.Error("failed to accept QUIC connection",
				"error", err,
			)
		}
		a.closeWith(err)
		return nil, &TransportError{Err: err}
	}

	if a.logger != nil {
		a.logger.Debug("accepted a new QUIC connection",
			"remote_address", conn.RemoteAddr(),
		)
	}

	if a.fusewire != nil {
		a.fusewire.Event(fuse.Event{
			Kind:       fuse.ConnAccepted,
			RemoteAddr: conn.RemoteAddr(),
		})
	}

	return NewH3Conn(conn, a.builder, a.fusewire), nil
}

// Addr returns the bound address. It does not change over the acceptor's life.
func (a *Acceptor) Addr() net.Addr {
	return a.conn.LocalAddr()
}

// State returns the current lifecycle state.
func (a *Acceptor) State() AcceptorState {
	return AcceptorState(a.state.Load())
}

// Current returns the configuration new handshakes are served with.
func (a *Acceptor) Current() *ServerConfig {
	return a.current.Load()
}

// Generation returns how many configurations have been applied, the initial
// one included.
func (a *Acceptor) Generation() uint64 {
	return a.generation.Load()
}

// Fusewire returns the health sink of the acceptor, or nil.
func (a *Acceptor) Fusewire() fuse.Fusewire {
	return a.fusewire
}

// Close stops accepting, stops applying configurations and releases the
// endpoint. Connections still running on the endpoint are closed with it;
// stop them gracefully before closing the acceptor.
func (a *Acceptor) Close() error {
	a.closeWith(nil)
	return a.closeError
}

func (a *Acceptor) closeWith(cause error) {
	a.closeOnce.Do(func() {
		a.state.Store(int32(StateClosed))

		if a.stopWatch != nil {
			a.stopWatch()
		}

		var errs []error
		if a.ln != nil {
			errs = append(errs, a.ln.Close())
		}
		if a.transport != nil {
			errs = append(errs, a.transport.Close())
		}
		if a.ownsConn {
			errs = append(errs, a.conn.Close())
		}
		a.closeError = errors.Join(errs...)

		if a.logger != nil {
			if cause != nil {
				a.logger.Error("acceptor closed on endpoint failure", "error", cause)
			} else {
				a.logger.Debug("acceptor closed")
			}
		}
	})
}

// watch applies configurations as they arrive. It never blocks Accept.
func (a *Acceptor) watch(ctx context.Context, next nextConfig) {
	defer close(a.watchDone)

	for {
		sc, err := next(ctx)
		var configErr *ConfigError
		if errors.As(err, &configErr) {
			if a.logger != nil {
				a.logger.Error("rejected server configuration, keeping the current one",
					"error", err,
				)
			}
			if a.fusewire != nil {
				a.fusewire.Event(fuse.Event{Kind: fuse.ConfigRejected, Err: err})
			}
			continue
		}
		if err != nil {
			if a.logger != nil {
				switch {
				case errors.Is(err, io.EOF):
					a.logger.Debug("config stream ended, keeping the current configuration")
				case ctx.Err() == nil:
					a.logger.Error("config stream failed, keeping the current configuration",
						"error", err,
					)
				}
			}
			return
		}

		a.current.Store(a.withTransport(sc))
		gen := a.generation.Add(1)

		if a.logger != nil {
			a.logger.Info("applied server configuration", "generation", gen)
		}
		if a.fusewire != nil {
			a.fusewire.Event(fuse.Event{Kind: fuse.ConfigApplied})
		}
	}
}

func (a *Acceptor) withTransport(sc *ServerConfig) *ServerConfig {
	if a.quicConfig != nil {
		return sc.WithTransport(a.quicConfig)
	}
	return sc
}

// baseTLSConfig resolves the TLS configuration per ClientHello, so every
// handshake sees one complete snapshot.
func (a *Acceptor) baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: ALPNProtocols(),
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return a.current.Load().tls, nil
		},
	}
}

// baseQUICConfig resolves the transport parameters per connection attempt.
func (a *Acceptor) baseQUICConfig() *Config {
	var qc *Config
	if a.quicConfig != nil {
		qc = a.quicConfig.Clone()
	} else {
		qc = DefaultConfig()
	}
	qc.GetConfigForClient = func(*quicgo.ClientHelloInfo) (*Config, error) {
		return a.current.Load().quic, nil
	}
	return qc
}
