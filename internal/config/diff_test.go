package config_test

import (
	"testing"

	"github.com/voximply/intake/internal/config"
)

// diffBase builds a fresh config for diffing; each call returns an
// independent value so tests can mutate one side freely.
func diffBase() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Engine: config.EngineConfig{ChainTimeoutMS: 20000},
		Consensus: config.ConsensusConfig{
			Recognizers: []config.ProviderEntry{{Name: "deepgram"}, {Name: "whisper"}},
			Fallback:    "whisper",
		},
		Dispatch: config.DispatchConfig{
			BreakerThreshold: 4,
			Speech: &config.CapabilityConfig{
				Primary:   config.ProviderEntry{Name: "eleven"},
				Secondary: config.ProviderEntry{Name: "polly"},
			},
		},
		Graph: config.GraphConfig{
			Start: "ask",
			Nodes: []config.NodeConfig{
				{ID: "ask", Kind: "sequence", Fields: []string{"name"}, OnSuccess: "done"},
				{ID: "done", Kind: "terminal", Message: "Thanks."},
			},
		},
		Fields: map[string]config.FieldRuleConfig{
			"phone": {MaxRetries: intPtr(2)},
		},
		Services: []config.ServiceConfig{
			{Name: "Haircut", Keywords: []string{"haircut", "trim"}},
		},
		Knowledge: []config.KnowledgeConfig{
			{Topic: "opening hours", Patterns: []string{"open"}, Answer: "Nine to six."},
		},
	}
}

func intPtr(v int) *int { return &v }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(diffBase(), diffBase())
	if d.LogLevelChanged || d.KnowledgeChanged || d.GraphChanged || d.TuningChanged {
		t.Errorf("expected zero diff for identical configs, got %+v", d)
	}
	if !d.HotReloadable() {
		t.Error("zero diff should be hot reloadable")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Server.LogLevel = config.LogDebug

	d := config.Diff(diffBase(), updated)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if !d.HotReloadable() {
		t.Error("a log level change should be hot reloadable")
	}
}

func TestDiff_ServiceCatalogChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Services = append(updated.Services, config.ServiceConfig{Name: "Colouring"})

	d := config.Diff(diffBase(), updated)
	if !d.KnowledgeChanged {
		t.Error("expected KnowledgeChanged=true for a catalog change")
	}
	if d.GraphChanged || d.TuningChanged {
		t.Errorf("catalog change should not flag graph or tuning, got %+v", d)
	}
	if !d.HotReloadable() {
		t.Error("a catalog change should be hot reloadable")
	}
}

func TestDiff_KnowledgeAnswerChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Knowledge[0].Answer = "Ten to four on Sundays."

	d := config.Diff(diffBase(), updated)
	if !d.KnowledgeChanged {
		t.Error("expected KnowledgeChanged=true for an answer change")
	}
}

func TestDiff_GraphChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Graph.Nodes[0].Fields = []string{"name", "phone"}

	d := config.Diff(diffBase(), updated)
	if !d.GraphChanged {
		t.Error("expected GraphChanged=true for a node change")
	}
	if d.HotReloadable() {
		t.Error("a graph change must not be hot reloadable")
	}
}

func TestDiff_FieldOverrideChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Fields["phone"] = config.FieldRuleConfig{MaxRetries: intPtr(5)}

	d := config.Diff(diffBase(), updated)
	if !d.GraphChanged {
		t.Error("expected GraphChanged=true for a field override change")
	}
}

func TestDiff_TuningChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Engine.ChainTimeoutMS = 45000

	d := config.Diff(diffBase(), updated)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true for an engine timing change")
	}
	if d.HotReloadable() {
		t.Error("a tuning change must not be hot reloadable")
	}
}

func TestDiff_ProviderChanged(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Dispatch.Speech.Secondary = config.ProviderEntry{Name: "coqui"}

	d := config.Diff(diffBase(), updated)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true for a provider swap")
	}
}

func TestDiff_CapabilityRemoved(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Dispatch.Speech = nil

	d := config.Diff(diffBase(), updated)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true when a capability is dropped")
	}
}

func TestDiff_RecognizerOrderMatters(t *testing.T) {
	t.Parallel()
	updated := diffBase()
	updated.Consensus.Recognizers[0], updated.Consensus.Recognizers[1] =
		updated.Consensus.Recognizers[1], updated.Consensus.Recognizers[0]

	d := config.Diff(diffBase(), updated)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true when recognizer order changes")
	}
}
