package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voximply/intake/internal/events"
	"github.com/voximply/intake/internal/report"
)

// ErrAllProvidersFailed is returned when every provider for a capability
// either failed or had an open breaker.
var ErrAllProvidersFailed = errors.New("dispatch: all providers failed")

// DefaultCallTimeout bounds a single provider attempt.
const DefaultCallTimeout = 10 * time.Second

// Provider pairs a name with a provider implementation.
type Provider[T any] struct {
	Name  string
	Value T
}

// Config holds dispatcher tuning. Zero values take the defaults.
type Config struct {
	// CallTimeout is the per-attempt deadline. A timed-out attempt counts as
	// a breaker failure.
	CallTimeout time.Duration

	// Threshold and RecoveryTimeout seed the providers' breakers on first
	// use; an already-registered breaker keeps its original settings.
	Threshold       int
	RecoveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

type settings struct {
	cfg    Config
	sink   events.Sink
	convID string
	log    *slog.Logger
}

// Option configures a dispatcher.
type Option func(*settings)

// WithConfig overrides the default tuning.
func WithConfig(cfg Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithEvents routes provider-call events to sink, stamped with the owning
// conversation's id.
func WithEvents(sink events.Sink, conversationID string) Option {
	return func(s *settings) {
		if sink != nil {
			s.sink = sink
		}
		s.convID = conversationID
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Dispatcher routes calls for one capability across a primary and a secondary
// provider. Providers whose breaker is open are skipped; a failed attempt
// falls through to the next provider. Dispatchers are cheap and per
// conversation; the breakers they consult come from the shared [BreakerTable].
type Dispatcher[T any] struct {
	capability  string
	entries     []entry[T]
	callTimeout time.Duration
	emit        events.Sink
	convID      string
	log         *slog.Logger
}

// New builds a dispatcher for a capability with a primary/secondary provider
// pair. Both providers must be named, distinctly; their breakers are fetched
// from table, created with the configured threshold and recovery timeout on
// first use.
func New[T any](capability string, primary, secondary Provider[T], table *BreakerTable, opts ...Option) (*Dispatcher[T], error) {
	if capability == "" {
		return nil, errors.New("dispatch: capability name required")
	}
	if table == nil {
		return nil, errors.New("dispatch: breaker table required")
	}
	if primary.Name == "" || secondary.Name == "" {
		return nil, errors.New("dispatch: providers must be named")
	}
	if primary.Name == secondary.Name {
		return nil, fmt.Errorf("dispatch: primary and secondary share the name %q", primary.Name)
	}

	s := settings{
		cfg:  Config{}.withDefaults(),
		sink: events.Discard{},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.cfg = s.cfg.withDefaults()

	d := &Dispatcher[T]{
		capability:  capability,
		callTimeout: s.cfg.CallTimeout,
		emit:        s.sink,
		convID:      s.convID,
		log:         s.log,
	}
	for _, p := range []Provider[T]{primary, secondary} {
		d.entries = append(d.entries, entry[T]{
			name:  p.Name,
			value: p.Value,
			breaker: table.Get(BreakerConfig{
				Name:            p.Name,
				Threshold:       s.cfg.Threshold,
				RecoveryTimeout: s.cfg.RecoveryTimeout,
			}),
		})
	}
	return d, nil
}

// Capability returns the capability this dispatcher serves.
func (d *Dispatcher[T]) Capability() string { return d.capability }

// Call invokes fn against d's providers in order, primary first, skipping
// providers with an open breaker and falling through on error. When every
// provider fails or is rejected it returns [ErrAllProvidersFailed] wrapping
// the last error.
//
// Call is a package-level function rather than a method because Go does not
// support method-level type parameters.
func Call[T, R any](ctx context.Context, d *Dispatcher[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	var lastErr error
	for _, e := range d.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if err := e.breaker.Allow(); err != nil {
			d.log.Debug("skipping provider with open circuit breaker",
				"provider", e.name, "capability", d.capability)
			lastErr = err
			continue
		}

		res, err := attempt(ctx, d, e, fn)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		d.log.Warn("provider call failed",
			"provider", e.name, "capability", d.capability, "error", err)
		lastErr = err
	}

	err := fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	report.Error(err, map[string]string{"capability": d.capability})
	return zero, err
}

// attempt runs one provider call under the per-attempt timeout. The attempt
// context is detached from conversation cancellation: when the caller goes
// away mid-call the work runs to completion in the background and its real
// outcome is still recorded against the breaker.
func attempt[T, R any](ctx context.Context, d *Dispatcher[T], e entry[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.callTimeout)

	type outcome struct {
		res R
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := fn(attemptCtx, e.value)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		cancel()
		e.breaker.Record(out.err == nil)
		d.observe(e.name, statusOf(out.err), time.Since(start))
		return out.res, out.err

	case <-ctx.Done():
		go func() {
			defer cancel()
			out := <-done
			e.breaker.Record(out.err == nil)
			d.observe(e.name, statusOf(out.err), time.Since(start))
		}()
		return zero, ctx.Err()

	case <-attemptCtx.Done():
		cancel()
		e.breaker.Record(false)
		d.observe(e.name, "timeout", time.Since(start))
		return zero, fmt.Errorf("dispatch: %s call to %s timed out after %s",
			d.capability, e.name, d.callTimeout)
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (d *Dispatcher[T]) observe(provider, status string, elapsed time.Duration) {
	d.emit.Emit(context.Background(), events.New(events.TypeProviderCall, d.convID, map[string]any{
		"provider":   provider,
		"capability": d.capability,
		"status":     status,
		"seconds":    elapsed.Seconds(),
	}))
}
