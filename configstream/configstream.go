// Package configstream lifts sources of configuration values into a single
// pull-based stream shape.
//
// A listener consumes a ConfigStream without knowing where the values come
// from: a static value, a file watcher, or an external push all look the same.
package configstream

import (
	"context"
	"io"
	"sync"
)

// ConfigStream is a lazy, forward-only, possibly infinite sequence of
// configuration values.
//
// Next blocks until the next value arrives, ctx is done, or the stream ends.
// A stream that ended returns io.EOF from every later call.
type ConfigStream[T any] interface {
	Next(ctx context.Context) (T, error)
}

// IntoConfigStream is anything that can be viewed as a ConfigStream.
type IntoConfigStream[T any] interface {
	ConfigStream() ConfigStream[T]
}

// Of resolves the capability.
func Of[T any](src IntoConfigStream[T]) ConfigStream[T] {
	if src == nil {
		return Empty[T]()
	}
	return src.ConfigStream()
}

/*
 * Static
 */

var _ IntoConfigStream[struct{}] = (*StaticStream[struct{}])(nil)

// Static returns a stream that yields v once and then stalls forever.
// It never reports io.EOF, so a consumer keeps v for its whole lifetime.
func Static[T any](v T) *StaticStream[T] {
	return &StaticStream[T]{value: v}
}

// StaticStream is a one-element stream that stalls after its value.
type StaticStream[T any] struct {
	mu    sync.Mutex
	value T
	taken bool
}

func (s *StaticStream[T]) Next(ctx context.Context) (T, error) {
	s.mu.Lock()
	if !s.taken {
		s.taken = true
		v := s.value
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	var zero T
	return zero, ctx.Err()
}

func (s *StaticStream[T]) ConfigStream() ConfigStream[T] {
	return s
}

/*
 * Channel
 */

var _ IntoConfigStream[struct{}] = (*ChanStream[struct{}])(nil)

// FromChan returns a stream that yields the values received from ch in
// arrival order. Closing ch ends the stream.
func FromChan[T any](ch <-chan T) *ChanStream[T] {
	return &ChanStream[T]{ch: ch}
}

// ChanStream is a stream backed by a channel.
type ChanStream[T any] struct {
	ch <-chan T
}

func (s *ChanStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-s.ch:
		if !ok {
			return zero, io.EOF
		}
		return v, nil
	}
}

func (s *ChanStream[T]) ConfigStream() ConfigStream[T] {
	return s
}

/*
 * Func
 */

// Func adapts a pull function to a ConfigStream.
type Func[T any] func(ctx context.Context) (T, error)

func (f Func[T]) Next(ctx context.Context) (T, error) {
	return f(ctx)
}

func (f Func[T]) ConfigStream() ConfigStream[T] {
	return f
}

/*
 * Empty
 */

// Empty returns a stream that has already ended.
func Empty[T any]() ConfigStream[T] {
	return Func[T](func(context.Context) (T, error) {
		var zero T
		return zero, io.EOF
	})
}
