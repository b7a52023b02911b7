// Package report sends contract violations and provider outages to Sentry.
//
// Everything here is fire-and-forget: when no DSN is configured the package
// is a no-op, and a capture never alters control flow. Callers keep returning
// their errors as usual; report just makes sure someone with a dashboard sees
// them too.
package report

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// flushTimeout bounds the drain on shutdown.
const flushTimeout = 2 * time.Second

// enabled is set once by Init when a DSN is configured.
var enabled atomic.Bool

// Config holds the reporting settings.
type Config struct {
	// DSN enables reporting when non-empty.
	DSN string

	// Environment tags captured events ("production", "staging", ...).
	Environment string

	// Release tags captured events with the running version.
	Release string
}

// Init configures Sentry. With an empty DSN it does nothing and every later
// call is a no-op. An init failure is logged, not returned: reporting is
// never worth failing startup over.
func Init(cfg Config) {
	if cfg.DSN == "" {
		return
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		slog.Warn("sentry init failed", "error", err)
		return
	}
	enabled.Store(true)
	slog.Info("error reporting enabled", "environment", cfg.Environment)
}

// Error captures err with tags. No-op when reporting is disabled or err is
// nil.
func Error(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Message captures a plain message with tags. No-op when disabled.
func Message(msg string, tags map[string]string) {
	if msg == "" || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureMessage(msg)
	})
}

// Flush drains pending events. Call in a defer from main().
func Flush() {
	if !enabled.Load() {
		return
	}
	sentry.Flush(flushTimeout)
}
