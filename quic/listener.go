package quic

import (
	"context"
	"net"

	"github.com/OkutaniDaichi0106/goh3/configstream"
	"github.com/OkutaniDaichi0106/goh3/tlsconf"
)

// Listener is an HTTP/3 listener: a bound QUIC endpoint paired with the
// stream of configurations it serves with.
type Listener struct {
	acceptor *Acceptor
}

// Listen binds a UDP socket on addr and starts an Acceptor on it.
//
// It fails with a *BindError if the socket cannot be bound. It then waits
// for the first configuration of configs; pass configstream.Static for a
// configuration that never changes.
func Listen(ctx context.Context, addr string, configs configstream.IntoConfigStream[*tlsconf.Config], opts *Options) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	acceptor, err := NewAcceptor(ctx, conn, configs, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	acceptor.ownsConn = true

	return &Listener{acceptor: acceptor}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept(ctx context.Context) (*H3Conn, error) {
	return l.acceptor.Accept(ctx)
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.acceptor.Addr()
}

// Close closes the endpoint.
func (l *Listener) Close() error {
	return l.acceptor.Close()
}

// Acceptor returns the acceptor behind the listener.
func (l *Listener) Acceptor() *Acceptor {
	return l.acceptor
}
