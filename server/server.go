// Package server is a protocol-agnostic server core. It accepts connections
// from any number of listeners and serves each one with the same handler,
// whether the connection speaks HTTP/1.1, HTTP/2 or HTTP/3.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/OkutaniDaichi0106/goh3/fuse"
)

type Server struct {
	/*
	 * Handler serves every request of every connection.
	 * If nil, http.NotFoundHandler is used.
	 */
	Handler http.Handler

	/*
	 * Logger
	 */
	Logger *slog.Logger

	mu            sync.Mutex
	listeners     map[Listener]struct{}
	listenerGroup sync.WaitGroup

	conns     map[Conn]struct{}
	connGroup sync.WaitGroup

	initOnce sync.Once

	inShutdown atomic.Bool

	// acceptCtx ends the accept loops.
	acceptCtx    context.Context
	cancelAccept context.CancelFunc

	// stopCtx is the graceful stop signal handed to every connection.
	stopCtx context.Context
	stop    context.CancelFunc
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		s.listeners = make(map[Listener]struct{})
		s.conns = make(map[Conn]struct{})
		s.acceptCtx, s.cancelAccept = context.WithCancel(context.Background())
		s.stopCtx, s.stop = context.WithCancel(context.Background())

		if s.Logger != nil {
			s.Logger.Debug("initialized server")
		}
	})
}

// Serve accepts connections on ln and serves each of them in its own
// goroutine. It returns ErrServerClosed after Shutdown or Close, and the
// accept error otherwise. ln is closed by Shutdown and Close, not by Serve.
//
// While the Fusewire of an accepted connection reports tripped through
// fuse.Tripper, the connection is refused without being served: through
// Refuser if it implements it, or closed otherwise.
func (s *Server) Serve(ln Listener) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}

	s.init()

	if !s.addListener(ln) {
		return ErrServerClosed
	}
	defer s.removeListener()

	logger := s.Logger
	if logger != nil {
		logger = logger.With("address", ln.Addr().String())
		logger.Debug("serving listener")
	}

	for {
		conn, err := ln.Accept(s.acceptCtx)
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if logger != nil {
				logger.Error("failed to accept connection",
					"error", err,
				)
			}
			return err
		}

		if tripped(conn.Fusewire()) {
			if logger != nil {
				logger.Warn("refusing connection, fusewire tripped",
					"remote_address", conn.RemoteAddr(),
				)
			}
			refuse(conn)
			continue
		}

		if !s.addConn(conn) {
			conn.Close()
			return ErrServerClosed
		}

		go s.serveConn(conn, logger)
	}
}

func (s *Server) serveConn(conn Conn, logger *slog.Logger) {
	defer s.removeConn(conn)

	if logger != nil {
		logger = logger.With("remote_address", conn.RemoteAddr())
		logger.Debug("serving connection")
	}

	handler := s.Handler
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	if err := conn.Serve(s.stopCtx, handler); err != nil {
		if logger != nil {
			logger.Debug("connection ended with an error",
				"error", err,
			)
		}
		return
	}

	if logger != nil {
		logger.Debug("connection ended")
	}
}

// Shutdown gracefully stops the server. It stops accepting, tells every
// connection to finish the requests in flight and waits until they have
// returned. If ctx is done first, the remaining connections are closed and
// ctx's error is returned. The listeners are closed last.
func (s *Server) Shutdown(ctx context.Context) error {
	s.init()
	s.markShutdown()

	if s.Logger != nil {
		s.Logger.Info("shutting down server")
	}

	s.cancelAccept()
	s.listenerGroup.Wait()

	s.stop()

	done := make(chan struct{})
	go func() {
		s.connGroup.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		if s.Logger != nil {
			s.Logger.Warn("shutdown timed out, closing remaining connections",
				"error", err,
			)
		}
		s.closeConns()
	}

	return errors.Join(err, s.closeListeners())
}

// Close closes every connection and listener immediately.
func (s *Server) Close() error {
	s.init()
	s.markShutdown()

	if s.Logger != nil {
		s.Logger.Info("closing server")
	}

	s.cancelAccept()
	s.stop()

	s.closeConns()
	return s.closeListeners()
}

func (s *Server) addListener(ln Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown() {
		return false
	}
	s.listeners[ln] = struct{}{}
	s.listenerGroup.Add(1)
	return true
}

func (s *Server) removeListener() {
	s.listenerGroup.Done()
}

func (s *Server) closeListeners() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for ln := range s.listeners {
		errs = append(errs, ln.Close())
	}
	s.listeners = make(map[Listener]struct{})

	return errors.Join(errs...)
}

func (s *Server) addConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCtx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connGroup.Add(1)
	return true
}

func (s *Server) removeConn(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
	s.connGroup.Done()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
	}
}

// markShutdown is serialized with addListener so no listener is added
// once the accept loops are being waited for.
func (s *Server) markShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inShutdown.Store(true)
}

func (s *Server) shuttingDown() bool {
	return s.inShutdown.Load()
}

func refuse(conn Conn) error {
	if r, ok := conn.(Refuser); ok {
		return r.Refuse()
	}
	return conn.Close()
}

func tripped(wire fuse.Fusewire) bool {
	t, ok := wire.(fuse.Tripper)
	return ok && t.Tripped()
}
