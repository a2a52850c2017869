package quic

import (
	"errors"
	"fmt"

	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

var (
	// ErrUnsupported is returned by byte stream I/O on an HTTP/3 connection.
	// QUIC has no flat byte stream; callers must serve the connection instead.
	ErrUnsupported = fmt.Errorf("quic: byte stream I/O on an HTTP/3 connection: %w", errors.ErrUnsupported)

	// ErrAcceptorClosed is returned by Accept after the acceptor was closed
	// or its endpoint failed.
	ErrAcceptorClosed = errors.New("quic: acceptor closed")

	// ErrNoConfig is returned when the config stream ends before yielding
	// a first configuration.
	ErrNoConfig = errors.New("quic: config stream ended without a configuration")

	// ErrConfigForClient is returned for a *tls.Config that sets
	// GetConfigForClient.
	ErrConfigForClient = errors.New("quic: GetConfigForClient is not supported")
)

// ApplicationError represents an application-level error in QUIC.
type ApplicationError = quicgo.ApplicationError

// StatelessResetError indicates that a stateless reset was received.
type StatelessResetError = quicgo.StatelessResetError

// IdleTimeoutError indicates that the connection timed out due to inactivity.
type IdleTimeoutError = quicgo.IdleTimeoutError

// HandshakeTimeoutError indicates that the handshake did not complete in time.
type HandshakeTimeoutError = quicgo.HandshakeTimeoutError

type (
	// ApplicationErrorCode identifies application-defined connection errors.
	ApplicationErrorCode = quicgo.ApplicationErrorCode

	// StreamErrorCode identifies stream-specific errors.
	StreamErrorCode = quicgo.StreamErrorCode

	// StreamID uniquely identifies a stream within a QUIC connection.
	StreamID = quicgo.StreamID
)

// HTTP/3 error codes used by this package (RFC 9114, Section 8.1).
const (
	// GracefulCloseCode is sent when a connection is closed after a graceful stop.
	GracefulCloseCode = ApplicationErrorCode(http3.ErrCodeNoError)

	// InternalErrorCode is sent when serving ended on a local failure, or when
	// a connection is aborted.
	InternalErrorCode = ApplicationErrorCode(http3.ErrCodeInternalError)

	// ExcessiveLoadCode is sent when a connection is refused without being served.
	ExcessiveLoadCode = ApplicationErrorCode(http3.ErrCodeExcessiveLoad)

	// RequestRejectedCode resets request streams that arrived after a graceful stop.
	RequestRejectedCode = StreamErrorCode(http3.ErrCodeRequestRejected)
)

// ConfigError is returned when a TLS configuration cannot be turned into a
// server crypto context.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("quic: invalid server configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// BindError is returned when the listening socket cannot be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("quic: failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// TransportError is a fatal endpoint or connection failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("quic: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamError is a request stream failure caused by the peer or the network.
// It is reported to the Fusewire and never ends the connection.
type StreamError struct {
	StreamID StreamID
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("quic: stream %d failed: %v", e.StreamID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// isPeerFailure reports whether err was caused by the peer or the network
// rather than by this side.
func isPeerFailure(err error) bool {
	if err == nil {
		return false
	}

	var streamErr *quicgo.StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Remote
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Remote && appErr.ErrorCode != GracefulCloseCode
	}

	var transportErr *quicgo.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Remote
	}

	var idleErr *IdleTimeoutError
	var resetErr *StatelessResetError
	var handshakeErr *HandshakeTimeoutError
	return errors.As(err, &idleErr) || errors.As(err, &resetErr) || errors.As(err, &handshakeErr)
}

// isPeerClose reports whether err is the peer closing the connection cleanly.
func isPeerClose(err error) bool {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Remote && (appErr.ErrorCode == GracefulCloseCode || appErr.ErrorCode == 0)
	}
	var idleErr *IdleTimeoutError
	return errors.As(err, &idleErr)
}
