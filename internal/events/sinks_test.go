package events

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voximply/intake/internal/observe"
)

func TestSlogSinkWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := NewSlogSink(log)
	s.Emit(context.Background(), New(TypeTransition, "c7", map[string]any{"to": "eliciting"}))

	out := buf.String()
	if !strings.Contains(out, "event_type=transition") || !strings.Contains(out, "c7") {
		t.Errorf("log output = %q", out)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	tests := []struct {
		typ  Type
		want slog.Level
	}{
		{TypeTransition, slog.LevelDebug},
		{TypePrompt, slog.LevelDebug},
		{TypeChainCompleted, slog.LevelInfo},
		{TypeChainFailed, slog.LevelWarn},
		{TypeBreakerOpened, slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := eventLevel(tt.typ); got != tt.want {
			t.Errorf("eventLevel(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestMetricsSinkRecordsVote(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s := NewMetricsSink(m)
	ctx := context.Background()

	s.Emit(ctx, New(TypeConsensusVote, "c1", map[string]any{"outcome": "agreed", "seconds": 0.3}))
	s.Emit(ctx, New(TypeConversationStarted, "c1", nil))
	s.Emit(ctx, New(TypeProviderCall, "c1", map[string]any{
		"provider": "primary", "capability": "language", "status": "ok", "seconds": 0.1,
	}))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			names[met.Name] = true
		}
	}
	for _, want := range []string{
		"intake.consensus.votes",
		"intake.active_conversations",
		"intake.provider.requests",
	} {
		if !names[want] {
			t.Errorf("metric %q not recorded", want)
		}
	}
}

func TestMetricsSinkIgnoresUnknownData(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s := NewMetricsSink(m)

	// Missing data keys must not panic; they record zero values.
	s.Emit(context.Background(), New(TypeConsensusVote, "c1", nil))
	s.Emit(context.Background(), New(TypePrompt, "c1", nil))
}
