// Package quic serves HTTP/3 over QUIC behind a uniform connection interface.
//
// A Listener binds one UDP socket and serves with the newest configuration
// of a config stream, so certificates can be rotated without rebinding the
// socket or touching established connections. Each accepted connection is
// an H3Conn that a protocol-agnostic server core serves like any other HTTP
// connection.
//
// # Basic Usage
//
//	configs := configstream.Static(tlsconf.New(certPEM, keyPEM))
//
//	ln, err := quic.Listen(ctx, ":4433", configs, &quic.Options{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ln.Close()
//
//	for {
//	    conn, err := ln.Accept(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    go conn.Serve(stopCtx, handler)
//	}
//
// # Configuration
//
// NewServerConfig converts a tlsconf.Config into a ServerConfig. The ALPN
// list is fixed to ALPNProtocols: "h3" first, then the draft tokens "h3-29",
// "h3-28" and "h3-27" for older peers.
//
// # Graceful Stop
//
// The context given to H3Conn.Serve is a graceful stop signal. When it is
// done the connection stops accepting request streams, lets the accepted
// ones finish and closes with GracefulCloseCode (H3_NO_ERROR).
//
// For more information about HTTP/3, see RFC 9114:
// https://datatracker.ietf.org/doc/html/rfc9114
package quic
