package events

import (
	"context"
	"log/slog"

	"github.com/voximply/intake/internal/observe"
)

// SlogSink writes events to a structured logger.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink returns a sink over log, or [slog.Default] when log is nil.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

// Emit logs the event. High-frequency event types log at Debug, outcomes at
// Info, degradations at Warn.
func (s *SlogSink) Emit(ctx context.Context, e Event) {
	s.log.Log(ctx, eventLevel(e.Type), "engine event",
		"event_type", string(e.Type),
		"conversation_id", e.ConversationID,
		"data", e.Data,
	)
}

func eventLevel(t Type) slog.Level {
	switch t {
	case TypeTransition, TypePrompt, TypeConsensusVote, TypeProviderCall:
		return slog.LevelDebug
	case TypeFieldFailed, TypeChainFailed, TypeChainTimeout, TypeBreakerOpened:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// MetricsSink translates events into OTel instrument updates.
type MetricsSink struct {
	m *observe.Metrics
}

// NewMetricsSink returns a sink over m, or [observe.DefaultMetrics] when m is
// nil.
func NewMetricsSink(m *observe.Metrics) *MetricsSink {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &MetricsSink{m: m}
}

// Emit records the event on the matching instruments. Unknown or
// non-metric event types are ignored.
func (s *MetricsSink) Emit(ctx context.Context, e Event) {
	switch e.Type {
	case TypeConversationStarted:
		s.m.ActiveConversations.Add(ctx, 1)
	case TypeConversationEnded:
		s.m.ActiveConversations.Add(ctx, -1)
		s.m.RecordConversationEnd(ctx, dataString(e, "outcome"))
	case TypeTransition:
		s.m.RecordTransition(ctx, dataString(e, "field"), dataString(e, "to"))
	case TypeFieldCompleted:
		s.m.RecordFieldOutcome(ctx, dataString(e, "field"), "completed")
	case TypeFieldFailed:
		s.m.RecordFieldOutcome(ctx, dataString(e, "field"), "failed")
	case TypeConsensusVote:
		s.m.RecordVote(ctx, dataString(e, "outcome"), dataFloat(e, "seconds"))
	case TypeProviderCall:
		s.m.RecordProviderCall(ctx,
			dataString(e, "provider"),
			dataString(e, "capability"),
			dataString(e, "status"),
			dataFloat(e, "seconds"),
		)
	case TypeBreakerOpened:
		s.m.RecordBreakerOpen(ctx, dataString(e, "provider"))
	}
}

func dataString(e Event, key string) string {
	v, _ := e.Data[key].(string)
	return v
}

func dataFloat(e Event, key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

var (
	_ Sink = (*SlogSink)(nil)
	_ Sink = (*MetricsSink)(nil)
)
