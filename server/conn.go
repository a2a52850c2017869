package server

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/OkutaniDaichi0106/goh3/fuse"
)

// Conn is an accepted connection the server can serve without knowing its
// protocol.
type Conn interface {
	// Serve runs the connection with handler. ctx is the graceful stop
	// signal: once it is done the connection stops taking new requests,
	// finishes the ones in flight and returns.
	Serve(ctx context.Context, handler http.Handler) error

	// Fusewire returns the health sink of the connection, or nil.
	Fusewire() fuse.Fusewire

	// Close aborts the connection.
	Close() error

	RemoteAddr() net.Addr
}

// Refuser is implemented by connections that can tell the peer they were
// refused rather than aborted. The server refuses connections while their
// Fusewire is tripped.
type Refuser interface {
	Refuse() error
}

// ByteStreamConn is a Conn whose transport is a flat byte stream, such as
// TLS over TCP for HTTP/1.1 and HTTP/2.
type ByteStreamConn interface {
	Conn
	io.ReadWriter
}

// Listener hands out connections of any protocol.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// TypedListener is a listener that hands out a concrete connection type.
type TypedListener[C Conn] interface {
	Accept(ctx context.Context) (C, error)
	Addr() net.Addr
	Close() error
}

// AsListener adapts a typed listener, such as *quic.Listener, to Listener.
func AsListener[C Conn](ln TypedListener[C]) Listener {
	return &typedListener[C]{ln: ln}
}

type typedListener[C Conn] struct {
	ln TypedListener[C]
}

func (l *typedListener[C]) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (l *typedListener[C]) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *typedListener[C]) Close() error {
	return l.ln.Close()
}
