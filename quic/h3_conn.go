package quic

import (
	"context"
	"net"
	"net/http"

	"github.com/OkutaniDaichi0106/goh3/fuse"
	quicgo "github.com/quic-go/quic-go"
)

// H3Conn is an accepted QUIC connection ready to be served as HTTP/3.
//
// It plugs into a server core that serves HTTP/1, HTTP/2 and HTTP/3
// connections alike. Byte stream I/O makes no sense on a multiplexed
// transport: Read and Write always fail with ErrUnsupported instead of
// pretending to work.
type H3Conn struct {
	inner    quicgo.Connection
	builder  *Builder
	fusewire fuse.Fusewire
}

// NewH3Conn wraps an accepted QUIC connection. builder and fusewire may be nil.
func NewH3Conn(inner quicgo.Connection, builder *Builder, fusewire fuse.Fusewire) *H3Conn {
	if builder == nil {
		builder = &Builder{}
	}
	return &H3Conn{
		inner:    inner,
		builder:  builder,
		fusewire: fusewire,
	}
}

// Serve runs the HTTP/3 loop of the connection with handler.
// ctx is the graceful stop signal, see Builder.ServeConnection.
func (c *H3Conn) Serve(ctx context.Context, handler http.Handler) error {
	return c.builder.ServeConnection(ctx, c, handler)
}

// Fusewire returns the health sink the connection reports to, or nil.
func (c *H3Conn) Fusewire() fuse.Fusewire {
	return c.fusewire
}

// Inner returns the underlying QUIC connection.
func (c *H3Conn) Inner() quicgo.Connection {
	return c.inner
}

// NegotiatedProtocol returns the ALPN token chosen during the handshake.
func (c *H3Conn) NegotiatedProtocol() string {
	return c.inner.ConnectionState().TLS.NegotiatedProtocol
}

func (c *H3Conn) RemoteAddr() net.Addr {
	return c.inner.RemoteAddr()
}

func (c *H3Conn) LocalAddr() net.Addr {
	return c.inner.LocalAddr()
}

// Read always fails with ErrUnsupported.
func (c *H3Conn) Read([]byte) (int, error) {
	return 0, ErrUnsupported
}

// Write always fails with ErrUnsupported.
func (c *H3Conn) Write([]byte) (int, error) {
	return 0, ErrUnsupported
}

// Close aborts the connection with InternalErrorCode, without waiting for
// request streams. Use a graceful stop through Serve to let them finish.
func (c *H3Conn) Close() error {
	return c.inner.CloseWithError(InternalErrorCode, "")
}

// Refuse closes a connection that will not be served with ExcessiveLoadCode,
// so the peer can retry later or elsewhere.
func (c *H3Conn) Refuse() error {
	return c.inner.CloseWithError(ExcessiveLoadCode, "")
}
