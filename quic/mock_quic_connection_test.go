package quic

import (
	"context"
	"net"

	quicgo "github.com/quic-go/quic-go"
	"github.com/stretchr/testify/mock"
)

var _ quicgo.Connection = (*MockQUICConnection)(nil)

// MockQUICConnection is a mock implementation of quicgo.Connection using testify/mock.
// Methods that are not mocked below panic.
type MockQUICConnection struct {
	quicgo.Connection
	mock.Mock
}

func (m *MockQUICConnection) AcceptStream(ctx context.Context) (quicgo.Stream, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(quicgo.Stream), args.Error(1)
}

func (m *MockQUICConnection) CloseWithError(code quicgo.ApplicationErrorCode, reason string) error {
	args := m.Called(code, reason)
	return args.Error(0)
}

func (m *MockQUICConnection) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

func (m *MockQUICConnection) ConnectionState() quicgo.ConnectionState {
	args := m.Called()
	return args.Get(0).(quicgo.ConnectionState)
}

func (m *MockQUICConnection) LocalAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *MockQUICConnection) RemoteAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}
