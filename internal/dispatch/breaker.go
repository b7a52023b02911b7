// Package dispatch routes generation calls across a primary/secondary
// provider pair, guarded by per-provider circuit breakers.
//
// Breakers are the one piece of mutable state shared across conversations:
// provider health is a process-wide fact, so every conversation consults the
// same [BreakerTable]. Everything else in the package is per-call.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voximply/intake/internal/events"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while the breaker is open and
// the recovery window has not elapsed, or when a half-open probe is already
// in flight.
var ErrBreakerOpen = errors.New("dispatch: circuit breaker is open")

const (
	// DefaultThreshold opens the breaker after this many consecutive
	// failures.
	DefaultThreshold = 5

	// DefaultRecoveryTimeout is how long the breaker stays open before
	// allowing a half-open trial call.
	DefaultRecoveryTimeout = 60 * time.Second
)

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the recovery timeout elapses.
	BreakerOpen

	// BreakerHalfOpen allows exactly one trial call before deciding to close
	// or re-open.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker]. Zero values take the
// defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs and events; usually the provider name.
	Name string

	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int

	// RecoveryTimeout is the open period before a half-open trial.
	RecoveryTimeout time.Duration
}

// Breaker tracks one provider's health. Unlike a simple wrapper it splits
// admission ([Breaker.Allow]) from accounting ([Breaker.Record]) so a caller
// that abandons an in-flight call can still report its outcome when the call
// eventually lands.
//
// Safe for concurrent use across conversations.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	emit      events.Sink
	log       *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	// probing marks the single allowed half-open trial as taken until its
	// outcome is recorded.
	probing bool
}

// NewBreaker creates a Breaker. Zero-value config fields take the defaults;
// sink may be nil.
func NewBreaker(cfg BreakerConfig, sink events.Sink) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if sink == nil {
		sink = events.Discard{}
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		recovery:  cfg.RecoveryTimeout,
		emit:      sink,
		log:       slog.Default(),
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed. Open within the recovery window
// rejects immediately; an elapsed window admits exactly one half-open trial
// and rejects concurrent callers until its outcome is recorded. Every
// admitted call must be followed by exactly one [Breaker.Record].
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.openedAt) < b.recovery {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = false
		b.log.Info("circuit breaker transitioning to half-open", "name", b.name)
	}

	if b.state == BreakerHalfOpen {
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

// Record accounts one call outcome. Success closes the breaker and resets the
// failure count; failure increments it, opening the breaker at the threshold
// or re-opening it from half-open immediately.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if success {
		if b.state != BreakerClosed {
			b.log.Info("circuit breaker closed", "name", b.name)
			b.emitLocked(events.TypeBreakerClosed)
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.failures = b.threshold
		b.log.Warn("circuit breaker re-opened from half-open", "name", b.name)
		b.emitLocked(events.TypeBreakerOpened)
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.log.Warn("circuit breaker opened",
			"name", b.name, "consecutive_failures", b.failures)
		b.emitLocked(events.TypeBreakerOpened)
	}
}

// Execute runs fn under the breaker: Allow, call, Record. Convenience for
// callers that never abandon calls.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err == nil)
	return err
}

// State returns the breaker's current state. An open breaker whose recovery
// window has elapsed reports half-open; the transition itself happens on the
// next Allow.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.recovery {
		return BreakerHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// emitLocked fires a breaker event. Caller holds b.mu; the sink contract is
// non-blocking so emitting under the lock is fine.
func (b *Breaker) emitLocked(typ events.Type) {
	b.emit.Emit(context.Background(), events.New(typ, "", map[string]any{
		"provider": b.name,
		"failures": b.failures,
	}))
}

// BreakerTable is the process-wide registry of breakers, shared by every
// conversation so provider health is judged once, globally.
type BreakerTable struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	sink     events.Sink
}

// NewBreakerTable creates an empty table. Breaker events flow to sink; nil
// discards them.
func NewBreakerTable(sink events.Sink) *BreakerTable {
	if sink == nil {
		sink = events.Discard{}
	}
	return &BreakerTable{
		breakers: make(map[string]*Breaker),
		sink:     sink,
	}
}

// Get returns the breaker for cfg.Name, creating it on first use. The config
// only applies on creation; later callers share the existing breaker.
func (t *BreakerTable) Get(cfg BreakerConfig) *Breaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[cfg.Name]; ok {
		return b
	}
	b := NewBreaker(cfg, t.sink)
	t.breakers[cfg.Name] = b
	return b
}

// States snapshots every breaker's state, for health and debug surfaces.
func (t *BreakerTable) States() map[string]BreakerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]BreakerState, len(t.breakers))
	for name, b := range t.breakers {
		out[name] = b.State()
	}
	return out
}
