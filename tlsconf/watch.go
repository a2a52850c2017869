package tlsconf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/OkutaniDaichi0106/goh3/configstream"
	"github.com/fsnotify/fsnotify"
)

var _ configstream.ConfigStream[*Config] = (*Watcher)(nil)
var _ configstream.IntoConfigStream[*Config] = (*Watcher)(nil)

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce is how long the watcher waits after the last file event before
	// reloading. Certificate renewals usually touch the chain and the key in
	// quick succession. If zero, 200 milliseconds is used.
	Debounce time.Duration

	// Logger
	Logger *slog.Logger
}

func (o *WatchOptions) debounce() time.Duration {
	if o != nil && o.Debounce > 0 {
		return o.Debounce
	}
	return 200 * time.Millisecond
}

func (o *WatchOptions) logger() *slog.Logger {
	if o != nil {
		return o.Logger
	}
	return nil
}

// Watcher is a ConfigStream of certificate files. It yields the current files
// first and a new Config every time either file changes. Changes that do not
// load are logged and skipped, so the consumer keeps its previous Config.
type Watcher struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration

	fsw     *fsnotify.Watcher
	updates chan *Config

	closeOnce sync.Once
	done      chan struct{}
}

// Watch loads certFile and keyFile and starts watching them.
// The watcher stops when ctx is done or Close is called.
func Watch(ctx context.Context, certFile, keyFile string, opts *WatchOptions) (*Watcher, error) {
	initial, err := Load(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	if _, err := initial.Build(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tlsconf: failed to create file watcher: %w", err)
	}

	// Watch the directories: renewals often replace files by renaming,
	// which drops a watch on the file itself.
	dirs := map[string]struct{}{
		filepath.Dir(certFile): {},
		filepath.Dir(keyFile):  {},
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("tlsconf: failed to watch %s: %w", dir, err)
		}
	}

	w := &Watcher{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   opts.logger(),
		debounce: opts.debounce(),
		fsw:      fsw,
		updates:  make(chan *Config, 1),
		done:     make(chan struct{}),
	}
	w.updates <- initial

	if w.logger != nil {
		w.logger = w.logger.With("cert_file", w.certFile, "key_file", w.keyFile)
		w.logger.Debug("watching certificate files")
	}

	go w.run(ctx)

	return w, nil
}

// Next returns the next loaded Config.
// It returns io.EOF once the watcher is closed and no update is pending.
func (w *Watcher) Next(ctx context.Context) (*Config, error) {
	select {
	case c := <-w.updates:
		return c, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-w.updates:
		return c, nil
	case <-w.done:
		select {
		case c := <-w.updates:
			return c, nil
		default:
			return nil, io.EOF
		}
	}
}

func (w *Watcher) ConfigStream() configstream.ConfigStream[*Config] {
	return w
}

// Close stops watching. Pending updates can still be read.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		close(w.done)
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.Close()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Error("file watcher error", "error", err)
			}
		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == w.certFile || name == w.keyFile
}

func (w *Watcher) reload() {
	c, err := Load(w.certFile, w.keyFile)
	if err == nil {
		_, err = c.Build()
	}
	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to reload certificate, keeping the previous one",
				"error", err,
			)
		}
		return
	}

	// Only the newest config matters: replace a pending one.
	select {
	case <-w.updates:
	default:
	}
	w.updates <- c

	if w.logger != nil {
		w.logger.Info("reloaded certificate")
	}
}
