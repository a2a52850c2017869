package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OkutaniDaichi0106/goh3/configstream"
	"github.com/OkutaniDaichi0106/goh3/fuse"
	"github.com/OkutaniDaichi0106/goh3/internal/testcert"
	"github.com/OkutaniDaichi0106/goh3/quic"
	"github.com/OkutaniDaichi0106/goh3/server"
	"github.com/OkutaniDaichi0106/goh3/tlsconf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/quic-go/webtransport-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr      string
	certFile        string
	keyFile         string
	watch           bool
	wtPath          string
	debug           bool
	shutdownTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "h3serve",
	Short: "HTTP/3 demo server",
	Long: `Serves HTTP/3 over QUIC with hot certificate rotation.
With --watch the certificate and key files are reloaded whenever they change,
without rebinding the socket or dropping established connections.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "0.0.0.0:4433", "UDP address to listen on")
	rootCmd.Flags().StringVarP(&certFile, "cert", "c", "", "TLS certificate file (a self-signed certificate is generated if empty)")
	rootCmd.Flags().StringVarP(&keyFile, "key", "k", "", "TLS key file")
	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload the certificate and key files when they change")
	rootCmd.Flags().StringVar(&wtPath, "webtransport-path", "", "Serve a WebTransport echo on this path")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for requests in flight on shutdown")

	rootCmd.MarkFlagsRequiredTogether("cert", "key")
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configs, closeConfigs, err := configSource(ctx, logger)
	if err != nil {
		return err
	}
	defer closeConfigs()

	breaker := &fuse.Breaker{Logger: logger}

	builder := &quic.Builder{
		EnableDatagrams: true,
		Logger:          logger,
	}
	if wtPath != "" {
		builder.WebTransport = &quic.WebTransport{
			Path:        wtPath,
			CheckOrigin: func(*http.Request) bool { return true },
			Handler:     echoSession(logger),
		}
	}

	ln, err := quic.Listen(ctx, listenAddr, configs, &quic.Options{
		Builder:  builder,
		Fusewire: breaker,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &server.Server{
		Handler: newHandler(ln.Acceptor(), breaker),
		Logger:  logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving HTTP/3", "address", ln.Addr().String())
		if err := srv.Serve(server.AsListener[*quic.H3Conn](ln)); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// configSource returns the configuration stream selected by the flags.
func configSource(ctx context.Context, logger *slog.Logger) (configstream.IntoConfigStream[*tlsconf.Config], func(), error) {
	if certFile == "" {
		pair, err := testcert.Generate("h3serve")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate a certificate: %w", err)
		}
		logger.Warn("using a self-signed certificate")
		return configstream.Static(tlsconf.New(pair.CertPEM, pair.KeyPEM)), func() {}, nil
	}

	if watch {
		w, err := tlsconf.Watch(ctx, certFile, keyFile, &tlsconf.WatchOptions{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return w, func() { w.Close() }, nil
	}

	c, err := tlsconf.Load(certFile, keyFile)
	if err != nil {
		return nil, nil, err
	}
	return configstream.Static(c), func() {}, nil
}

// newHandler returns the demo handler. Responses are gzip compressed for
// clients that accept it.
func newHandler(acceptor *quic.Acceptor, breaker *fuse.Breaker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Hello from %s over %s\n", r.Host, r.Proto)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if breaker.Tripped() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "state=%s generation=%d tripped=%t\n",
			acceptor.State(), acceptor.Generation(), breaker.Tripped())
	})
	return gzhttp.GzipHandler(mux)
}

func echoSession(logger *slog.Logger) func(*webtransport.Session) {
	return func(sess *webtransport.Session) {
		ctx := sess.Context()
		for {
			str, err := sess.AcceptStream(ctx)
			if err != nil {
				logger.Debug("webtransport session ended", "error", err)
				return
			}
			go func() {
				defer str.Close()
				if _, err := io.Copy(str, str); err != nil {
					logger.Debug("webtransport echo failed", "error", err)
				}
			}()
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
