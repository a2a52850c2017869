package quic

import (
	"context"

	quicgo "github.com/quic-go/quic-go"
	"github.com/stretchr/testify/mock"
)

var _ quicgo.Stream = (*MockQUICStream)(nil)

// MockQUICStream is a mock implementation of quicgo.Stream using testify/mock.
// Methods that are not mocked below panic.
type MockQUICStream struct {
	quicgo.Stream
	mock.Mock
}

func (m *MockQUICStream) StreamID() quicgo.StreamID {
	args := m.Called()
	return args.Get(0).(quicgo.StreamID)
}

func (m *MockQUICStream) Read(b []byte) (int, error) {
	args := m.Called(b)
	return args.Int(0), args.Error(1)
}

func (m *MockQUICStream) Write(b []byte) (int, error) {
	args := m.Called(b)
	return args.Int(0), args.Error(1)
}

func (m *MockQUICStream) CancelRead(code quicgo.StreamErrorCode) {
	m.Called(code)
}

func (m *MockQUICStream) CancelWrite(code quicgo.StreamErrorCode) {
	m.Called(code)
}

func (m *MockQUICStream) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockQUICStream) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}
