package quic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OkutaniDaichi0106/goh3/configstream"
	"github.com/OkutaniDaichi0106/goh3/fuse"
	"github.com/OkutaniDaichi0106/goh3/internal/testcert"
	"github.com/OkutaniDaichi0106/goh3/tlsconf"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type servedConn struct {
	ln   *Listener
	stop context.CancelFunc
	done <-chan error
}

// serveOne accepts one connection on a loopback listener and serves it
// with handler until stop is called.
func serveOne(t *testing.T, pair *testcert.Pair, builder *Builder, wire fuse.Fusewire, handler http.Handler) *servedConn {
	t.Helper()

	ln := listenLoopback(t, configstream.Static(tlsconf.New(pair.CertPEM, pair.KeyPEM)), &Options{
		Builder:  builder,
		Fusewire: wire,
	})

	stopCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, err := ln.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		done <- conn.Serve(stopCtx, handler)
	}()

	return &servedConn{ln: ln, stop: stop, done: done}
}

func (s *servedConn) url(path string) string {
	return fmt.Sprintf("https://%s%s", s.ln.Addr(), path)
}

func h3Client(t *testing.T, pair *testcert.Pair) *http.Client {
	rt := &http3.RoundTripper{TLSClientConfig: pair.ClientTLSConfig()}
	t.Cleanup(func() { rt.Close() })
	return &http.Client{Transport: rt, Timeout: 5 * time.Second}
}

func TestBuilder_ServeRequest(t *testing.T) {
	pair := testcert.MustGenerate("server")
	rec := &eventRecorder{}

	s := serveOne(t, pair, nil, rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello")
	}))

	rt := &http3.RoundTripper{TLSClientConfig: pair.ClientTLSConfig()}
	client := &http.Client{Transport: rt, Timeout: 5 * time.Second}

	resp, err := client.Get(s.url("/"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 3, resp.ProtoMajor)

	require.NoError(t, rt.Close())

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the client closed")
	}

	assert.Zero(t, rec.Count(fuse.StreamFailed))
	assert.Zero(t, rec.Count(fuse.ConnLost))
	assert.Equal(t, 1, rec.Count(fuse.ConnAccepted))
}

func TestBuilder_GracefulStop(t *testing.T) {
	pair := testcert.MustGenerate("server")

	var calls atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	s := serveOne(t, pair, &Builder{CloseLinger: 100 * time.Millisecond}, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		io.WriteString(w, "done")
	}))

	client := h3Client(t, pair)

	type result struct {
		body string
		err  error
	}
	get := func() <-chan result {
		ch := make(chan result, 1)
		go func() {
			resp, err := client.Get(s.url("/"))
			if err != nil {
				ch <- result{err: err}
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			ch <- result{body: string(body), err: err}
		}()
		return ch
	}

	first := get()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("the first request never reached the handler")
	}

	s.stop()
	time.Sleep(50 * time.Millisecond)

	second := get()
	time.Sleep(100 * time.Millisecond)

	// Serving must wait for the request in flight.
	select {
	case err := <-s.done:
		t.Fatalf("Serve returned before the request finished: %v", err)
	default:
	}

	close(release)

	r1 := <-first
	require.NoError(t, r1.err)
	assert.Equal(t, "done", r1.body)

	r2 := <-second
	assert.Error(t, r2.err)

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the graceful stop")
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestBuilder_GracefulStop_Idle(t *testing.T) {
	pair := testcert.MustGenerate("server")

	s := serveOne(t, pair, &Builder{CloseLinger: -1}, nil, http.NotFoundHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialQUIC(ctx, s.ln.Addr(), pair)
	require.NoError(t, err)

	s.stop()

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Serve did not return after the graceful stop")
	}

	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
		t.Fatal("the connection was not closed")
	}

	var appErr *ApplicationError
	require.ErrorAs(t, context.Cause(conn.Context()), &appErr)
	assert.True(t, appErr.Remote)
	assert.Equal(t, GracefulCloseCode, appErr.ErrorCode)
}

func TestBuilder_WebTransport(t *testing.T) {
	pair := testcert.MustGenerate("server")

	builder := &Builder{
		WebTransport: &WebTransport{
			Path: "/wt",
			Handler: func(sess *webtransport.Session) {
				str, err := sess.AcceptStream(sess.Context())
				if err != nil {
					return
				}
				io.Copy(str, str)
				str.Close()
				<-sess.Context().Done()
			},
		},
	}

	s := serveOne(t, pair, builder, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := webtransport.Dialer{TLSClientConfig: pair.ClientTLSConfig()}
	defer d.Close()

	rsp, sess, err := d.Dial(ctx, s.url("/wt"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	str, err := sess.OpenStreamSync(ctx)
	require.NoError(t, err)

	_, err = str.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, str.Close())

	echo, err := io.ReadAll(str)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(echo))

	require.NoError(t, sess.CloseWithError(0, ""))
}
