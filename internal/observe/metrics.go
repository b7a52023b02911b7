// Package observe provides observability primitives for the intake engine:
// OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter so they can be scraped via the standard
// /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all intake metrics.
const meterName = "github.com/voximply/intake"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConsensusDuration tracks the time from fan-out start to a chosen
	// transcript, including ranking.
	ConsensusDuration metric.Float64Histogram

	// ProviderDuration tracks outbound provider call latency. Use with
	// attributes: provider, capability.
	ProviderDuration metric.Float64Histogram

	// --- Counters ---

	// Transitions counts capture state transitions. Use with attributes:
	//   attribute.String("field", ...), attribute.String("to", ...)
	Transitions metric.Int64Counter

	// FieldOutcomes counts fields that reached a terminal state. Use with
	// attributes: field, outcome ("completed" or "failed").
	FieldOutcomes metric.Int64Counter

	// ConsensusVotes counts voter decisions. Use with attribute:
	//   attribute.String("outcome", ...) — "single", "agreed", "ranked",
	//   "fallback".
	ConsensusVotes metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   provider, capability, status ("ok" or "error").
	ProviderRequests metric.Int64Counter

	// BreakerOpens counts circuit-breaker open transitions per provider.
	BreakerOpens metric.Int64Counter

	// Conversations counts finished conversations. Use with attribute:
	//   attribute.String("outcome", ...) — "completed", "failed", "timeout".
	Conversations metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of live conversations.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConsensusDuration, err = m.Float64Histogram("intake.consensus.duration",
		metric.WithDescription("Latency from consensus fan-out start to chosen transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("intake.provider.duration",
		metric.WithDescription("Latency of outbound provider calls by provider and capability."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transitions, err = m.Int64Counter("intake.capture.transitions",
		metric.WithDescription("Total capture state transitions by field and destination state."),
	); err != nil {
		return nil, err
	}
	if met.FieldOutcomes, err = m.Int64Counter("intake.field.outcomes",
		metric.WithDescription("Total fields reaching a terminal state by field and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ConsensusVotes, err = m.Int64Counter("intake.consensus.votes",
		metric.WithDescription("Total consensus votes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("intake.provider.requests",
		metric.WithDescription("Total provider API requests by provider, capability, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerOpens, err = m.Int64Counter("intake.breaker.opens",
		metric.WithDescription("Total circuit-breaker open transitions by provider."),
	); err != nil {
		return nil, err
	}
	if met.Conversations, err = m.Int64Counter("intake.conversations",
		metric.WithDescription("Total finished conversations by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("intake.active_conversations",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records one capture state transition.
func (m *Metrics) RecordTransition(ctx context.Context, field, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("field", field),
			attribute.String("to", to),
		),
	)
}

// RecordFieldOutcome records a field reaching Completed or Failed.
func (m *Metrics) RecordFieldOutcome(ctx context.Context, field, outcome string) {
	m.FieldOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("field", field),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordVote records one consensus decision and its end-to-end latency.
func (m *Metrics) RecordVote(ctx context.Context, outcome string, seconds float64) {
	m.ConsensusVotes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.ConsensusDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderCall records one outbound provider call with its latency.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, capability, status string, seconds float64) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("capability", capability),
			attribute.String("status", status),
		),
	)
	m.ProviderDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("capability", capability),
		),
	)
}

// RecordBreakerOpen records a circuit breaker opening for a provider.
func (m *Metrics) RecordBreakerOpen(ctx context.Context, provider string) {
	m.BreakerOpens.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordConversationEnd records a finished conversation by outcome.
func (m *Metrics) RecordConversationEnd(ctx context.Context, outcome string) {
	m.Conversations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
