package quic

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/OkutaniDaichi0106/goh3/fuse"
	quicgo "github.com/quic-go/quic-go"
)

var _ quicgo.Stream = (*requestStream)(nil)

// requestStream is a request stream handed to the HTTP/3 server. It reports
// the first failure caused by the peer or the network to the Fusewire.
type requestStream struct {
	quicgo.Stream

	remote   net.Addr
	fusewire fuse.Fusewire

	reportOnce sync.Once
}

func newRequestStream(str quicgo.Stream, remote net.Addr, fusewire fuse.Fusewire) *requestStream {
	return &requestStream{
		Stream:   str,
		remote:   remote,
		fusewire: fusewire,
	}
}

func (s *requestStream) Read(b []byte) (int, error) {
	n, err := s.Stream.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		s.report(err)
	}
	return n, err
}

func (s *requestStream) Write(b []byte) (int, error) {
	n, err := s.Stream.Write(b)
	if err != nil {
		s.report(err)
	}
	return n, err
}

func (s *requestStream) report(err error) {
	if s.fusewire == nil || !isPeerFailure(err) {
		return
	}
	s.reportOnce.Do(func() {
		s.fusewire.Event(fuse.Event{
			Kind:       fuse.StreamFailed,
			RemoteAddr: s.remote,
			Err:        &StreamError{StreamID: s.Stream.StreamID(), Err: err},
		})
	})
}
