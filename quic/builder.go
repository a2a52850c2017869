package quic

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/OkutaniDaichi0106/goh3/fuse"
	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// Builder holds the HTTP/3 options shared by every connection of a listener
// and runs the HTTP/3 loop of a connection.
//
// The zero value serves plain HTTP/3.
type Builder struct {
	// MaxHeaderBytes limits the size of request headers.
	// If zero, http.DefaultMaxHeaderBytes is used.
	MaxHeaderBytes int

	// EnableDatagrams enables HTTP/3 datagrams (RFC 9297).
	EnableDatagrams bool

	// CloseLinger is how long a drained connection stays open before it is
	// closed, so the peer can acknowledge the last response bytes.
	// If zero, DefaultCloseLinger is used. A negative value closes at once.
	CloseLinger time.Duration

	// WebTransport enables WebTransport sessions on top of HTTP/3.
	// If nil, extended CONNECT requests reach the handler as they are.
	WebTransport *WebTransport

	// Logger
	Logger *slog.Logger
}

// DefaultCloseLinger is the default Builder.CloseLinger.
const DefaultCloseLinger = 200 * time.Millisecond

// WebTransport configures WebTransport upgrades.
type WebTransport struct {
	// Path is the request path that is upgraded to a WebTransport session.
	Path string

	// CheckOrigin validates the Origin header of upgrade requests.
	// If nil, the origin must match the request host.
	CheckOrigin func(*http.Request) bool

	// Handler serves an established session. The session ends when Handler
	// returns.
	Handler func(*webtransport.Session)
}

// ServeConnection runs the HTTP/3 loop of c until the peer closes the
// connection, a fatal error occurs, or ctx is done.
//
// ctx is a graceful stop signal: once it is done no new request stream is
// accepted, the streams already accepted run to completion, and the
// connection is closed with GracefulCloseCode. Slow handlers are not
// interrupted; a caller that cannot wait closes the connection.
func (b *Builder) ServeConnection(ctx context.Context, c *H3Conn, handler http.Handler) error {
	if b == nil {
		b = &Builder{}
	}

	logger := b.Logger
	if logger != nil {
		logger = logger.With(
			"remote_address", c.RemoteAddr(),
		)
		logger.Debug("serving HTTP/3 connection",
			"protocol", c.inner.ConnectionState().TLS.NegotiatedProtocol,
		)
	}

	conn := newTrackedConn(c.inner, ctx, c.fusewire)

	serve, release := b.newServer(handler, logger)
	defer release()

	err := serve(conn)

	if ctx.Err() != nil {
		if logger != nil {
			logger.Debug("graceful stop, draining request streams",
				"active_streams", conn.Active(),
			)
		}

		conn.drain()
		b.linger(c.inner)

		if err := c.inner.CloseWithError(GracefulCloseCode, ""); err != nil && logger != nil {
			logger.Debug("failed to close connection", "error", err)
		}

		if logger != nil {
			logger.Debug("connection closed after graceful stop")
		}
		return nil
	}

	if err == nil || isPeerClose(err) || isLocalClose(err) {
		if logger != nil {
			logger.Debug("connection closed")
		}
		return nil
	}

	if logger != nil {
		logger.Error("HTTP/3 connection failed",
			"error", err,
		)
	}

	if c.fusewire != nil {
		c.fusewire.Event(fuse.Event{
			Kind:       fuse.ConnLost,
			RemoteAddr: c.RemoteAddr(),
			Err:        err,
		})
	}

	if c.inner.Context().Err() == nil {
		_ = c.inner.CloseWithError(InternalErrorCode, "")
	}

	return &TransportError{Err: err}
}

// linger waits for CloseLinger unless the connection is already gone.
func (b *Builder) linger(conn quicgo.Connection) {
	d := b.CloseLinger
	if d == 0 {
		d = DefaultCloseLinger
	}
	if d < 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-conn.Context().Done():
	}
}

// newServer returns the HTTP/3 serve function for one connection.
func (b *Builder) newServer(handler http.Handler, logger *slog.Logger) (func(quicgo.Connection) error, func()) {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	if b.WebTransport == nil {
		server := &http3.Server{
			Handler:         handler,
			MaxHeaderBytes:  b.MaxHeaderBytes,
			EnableDatagrams: b.EnableDatagrams,
		}
		return server.ServeQUICConn, func() {}
	}

	wt := &webtransport.Server{
		H3: http3.Server{
			MaxHeaderBytes:  b.MaxHeaderBytes,
			EnableDatagrams: true,
		},
		CheckOrigin: b.WebTransport.CheckOrigin,
	}
	wt.H3.Handler = b.WebTransport.handler(wt, handler, logger)

	return wt.ServeQUICConn, func() {
		if err := wt.Close(); err != nil && logger != nil {
			logger.Debug("failed to close webtransport server", "error", err)
		}
	}
}

func (w *WebTransport) handler(wt *webtransport.Server, next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect || r.URL.Path != w.Path || w.Handler == nil {
			next.ServeHTTP(rw, r)
			return
		}

		sess, err := wt.Upgrade(rw, r)
		if err != nil {
			if logger != nil {
				logger.Error("failed to upgrade to webtransport",
					"path", r.URL.Path,
					"error", err,
				)
			}
			rw.WriteHeader(http.StatusBadRequest)
			return
		}

		if logger != nil {
			logger.Debug("webtransport session established", "path", r.URL.Path)
		}

		w.Handler(sess)
	})
}

// isLocalClose reports whether the connection was closed on this side,
// for instance by the server core aborting it.
func isLocalClose(err error) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr) && !appErr.Remote
}
