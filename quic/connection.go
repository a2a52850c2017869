package quic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/OkutaniDaichi0106/goh3/fuse"
	quicgo "github.com/quic-go/quic-go"
)

// errGracefulStop ends the request stream loop after a graceful stop.
var errGracefulStop = errors.New("quic: graceful stop")

var _ quicgo.Connection = (*trackedConn)(nil)

// trackedConn is the connection the HTTP/3 server runs on. It stops handing
// out request streams once stop is done, and counts the request streams
// it handed out until their send side is finished.
type trackedConn struct {
	quicgo.Connection

	stop     context.Context
	fusewire fuse.Fusewire

	inflight sync.WaitGroup
	active   atomic.Int64
}

func newTrackedConn(conn quicgo.Connection, stop context.Context, fusewire fuse.Fusewire) *trackedConn {
	return &trackedConn{
		Connection: conn,
		stop:       stop,
		fusewire:   fusewire,
	}
}

func (c *trackedConn) AcceptStream(ctx context.Context) (quicgo.Stream, error) {
	if c.stop.Err() != nil {
		return nil, errGracefulStop
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAccept := context.AfterFunc(c.stop, cancel)
	defer stopAccept()

	str, err := c.Connection.AcceptStream(ctx)
	if err != nil {
		if c.stop.Err() != nil {
			return nil, errGracefulStop
		}
		return nil, err
	}

	// The stream raced the stop signal.
	if c.stop.Err() != nil {
		str.CancelRead(RequestRejectedCode)
		str.CancelWrite(RequestRejectedCode)
		return nil, errGracefulStop
	}

	c.inflight.Add(1)
	c.active.Add(1)
	context.AfterFunc(str.Context(), func() {
		c.active.Add(-1)
		c.inflight.Done()
	})

	return newRequestStream(str, c.Connection.RemoteAddr(), c.fusewire), nil
}

// Active returns the number of request streams still sending.
func (c *trackedConn) Active() int64 {
	return c.active.Load()
}

// drain waits until every accepted request stream finished sending or the
// connection is gone.
func (c *trackedConn) drain() {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-c.Connection.Context().Done():
	}
}
