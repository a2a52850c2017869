package server_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OkutaniDaichi0106/goh3/configstream"
	"github.com/OkutaniDaichi0106/goh3/fuse"
	"github.com/OkutaniDaichi0106/goh3/internal/testcert"
	"github.com/OkutaniDaichi0106/goh3/quic"
	"github.com/OkutaniDaichi0106/goh3/server"
	"github.com/OkutaniDaichi0106/goh3/tlsconf"
	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	_ server.ByteStreamConn = (*quic.H3Conn)(nil)
	_ server.Refuser        = (*quic.H3Conn)(nil)
)

func trusting(pairs ...*testcert.Pair) *http.Client {
	pool := x509.NewCertPool()
	for _, p := range pairs {
		pool.AddCert(p.Leaf())
	}
	rt := &http3.RoundTripper{
		TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			ServerName: "localhost",
		},
	}
	return &http.Client{Transport: rt, Timeout: 5 * time.Second}
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func TestServer_QUICCertificateRotation(t *testing.T) {
	first := testcert.MustGenerate("first")
	second := testcert.MustGenerate("second")

	configs := make(chan *tlsconf.Config, 1)
	configs <- tlsconf.New(first.CertPEM, first.KeyPEM)

	breaker := &fuse.Breaker{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := quic.Listen(ctx, "127.0.0.1:0", configstream.FromChan(configs), &quic.Options{
		Fusewire: breaker,
	})
	require.NoError(t, err)

	srv := &server.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "hello %s", r.Proto)
		}),
	}

	var g errgroup.Group
	g.Go(func() error {
		err := srv.Serve(server.AsListener[*quic.H3Conn](ln))
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	url := fmt.Sprintf("https://%s/", ln.Addr())

	// A static configuration serves the first client.
	client1 := trusting(first)
	resp, body := get(t, client1, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello HTTP/3.0", body)
	assert.True(t, resp.TLS.PeerCertificates[0].Equal(first.Leaf()))
	assert.Zero(t, breaker.Count(fuse.StreamFailed))

	// Rotate the certificate.
	configs <- tlsconf.New(second.CertPEM, second.KeyPEM)
	require.Eventually(t, func() bool {
		return breaker.Count(fuse.ConfigApplied) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), ln.Acceptor().Generation())

	// A new client handshakes with the new certificate.
	client2 := trusting(first, second)
	resp, body = get(t, client2, url)
	assert.Equal(t, "hello HTTP/3.0", body)
	assert.True(t, resp.TLS.PeerCertificates[0].Equal(second.Leaf()))

	// The first client's connection is untouched.
	resp, body = get(t, client1, url)
	assert.Equal(t, "hello HTTP/3.0", body)
	assert.True(t, resp.TLS.PeerCertificates[0].Equal(first.Leaf()))

	assert.Equal(t, uint64(2), breaker.Count(fuse.ConnAccepted))
	assert.Zero(t, breaker.Count(fuse.StreamFailed))
	assert.False(t, breaker.Tripped())

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, g.Wait())

	_, err = ln.Accept(ctx)
	assert.ErrorIs(t, err, quic.ErrAcceptorClosed)
}

func TestServer_QUICRefusesWhileTripped(t *testing.T) {
	pair := testcert.MustGenerate("server")

	breaker := &fuse.Breaker{Threshold: 1}
	breaker.Event(fuse.Event{Kind: fuse.ConnLost, Err: errors.New("lost")})
	require.True(t, breaker.Tripped())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := quic.Listen(ctx, "127.0.0.1:0", configstream.Static(tlsconf.New(pair.CertPEM, pair.KeyPEM)), &quic.Options{
		Fusewire: breaker,
	})
	require.NoError(t, err)

	var served atomic.Bool
	srv := &server.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			served.Store(true)
		}),
	}

	var g errgroup.Group
	g.Go(func() error {
		err := srv.Serve(server.AsListener[*quic.H3Conn](ln))
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	client := trusting(pair)
	_, err = client.Get(fmt.Sprintf("https://%s/", ln.Addr()))
	assert.Error(t, err)

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, g.Wait())
	assert.False(t, served.Load())
}
