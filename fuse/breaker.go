package fuse

import (
	"log/slog"
	"sync"
	"time"
)

var _ Fusewire = (*Breaker)(nil)
var _ Tripper = (*Breaker)(nil)

// Breaker is a circuit-breaker Fusewire. It trips when Threshold failure
// events are reported within Window and stays tripped for Cooldown.
//
// The zero value is usable and uses the defaults below.
type Breaker struct {
	// Threshold is the number of failures within Window that trips the breaker.
	// If zero, 32 is used.
	Threshold int

	// Window is the period failures are counted over.
	// If zero, 10 seconds is used.
	Window time.Duration

	// Cooldown is how long the breaker stays tripped.
	// If zero, 30 seconds is used.
	Cooldown time.Duration

	// Logger
	Logger *slog.Logger

	mu       sync.Mutex
	failures []time.Time
	until    time.Time
	counts   map[EventKind]uint64

	// now is replaced in tests.
	now func() time.Time
}

func (b *Breaker) threshold() int {
	if b.Threshold > 0 {
		return b.Threshold
	}
	return 32
}

func (b *Breaker) window() time.Duration {
	if b.Window > 0 {
		return b.Window
	}
	return 10 * time.Second
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown > 0 {
		return b.Cooldown
	}
	return 30 * time.Second
}

func (b *Breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Event records e. Failure events count towards tripping the breaker.
func (b *Breaker) Event(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.counts == nil {
		b.counts = make(map[EventKind]uint64)
	}
	b.counts[e.Kind]++

	if !e.Kind.Failure() {
		return
	}

	now := b.clock()
	b.failures = append(b.pruneLocked(now), now)

	if len(b.failures) >= b.threshold() && !now.Before(b.until) {
		b.until = now.Add(b.cooldown())
		b.failures = b.failures[:0]

		if b.Logger != nil {
			b.Logger.Warn("fusewire tripped",
				"last_event", e.String(),
				"until", b.until,
			)
		}
	}
}

// Tripped reports whether the breaker is currently tripped.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.clock().Before(b.until)
}

// Count returns how many events of kind k were reported.
func (b *Breaker) Count(k EventKind) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts[k]
}

// Reset clears the failure history and closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = nil
	b.until = time.Time{}
}

// pruneLocked drops failures older than the window.
func (b *Breaker) pruneLocked(now time.Time) []time.Time {
	cutoff := now.Add(-b.window())
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	return b.failures[i:]
}
