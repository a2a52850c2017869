package server

import (
	"context"
	"net"
	"net/http"

	"github.com/OkutaniDaichi0106/goh3/fuse"
	"github.com/stretchr/testify/mock"
)

var _ Conn = (*MockConn)(nil)

// MockConn is a mock implementation of Conn using testify/mock.
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Serve(ctx context.Context, handler http.Handler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockConn) Fusewire() fuse.Fusewire {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(fuse.Fusewire)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockConn) RemoteAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

var _ Refuser = (*MockRefuserConn)(nil)

// MockRefuserConn is a MockConn that also implements Refuser.
type MockRefuserConn struct {
	MockConn
}

func (m *MockRefuserConn) Refuse() error {
	args := m.Called()
	return args.Error(0)
}

// chanListener hands out the connections sent on conns.
type chanListener struct {
	conns  chan Conn
	err    error
	closed chan struct{}
}

func newChanListener() *chanListener {
	return &chanListener{
		conns:  make(chan Conn),
		closed: make(chan struct{}),
	}
}

func (l *chanListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn, ok := <-l.conns:
		if !ok {
			return nil, l.err
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *chanListener) Addr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
}

func (l *chanListener) Close() error {
	close(l.closed)
	return nil
}

var testRemoteAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}

type trippedWire struct {
	fuse.Nop
}

func (trippedWire) Tripped() bool { return true }
