package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voximply/intake/internal/checkpoint"
	"github.com/voximply/intake/internal/config"
)

// engineConfig builds a minimal validated config: ask for a name, then
// thank or hand off.
func engineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Graph: config.GraphConfig{
			Start: "ask",
			Nodes: []config.NodeConfig{
				{ID: "ask", Kind: "sequence", Fields: []string{"name"}, OnSuccess: "done", OnFailure: "sorry"},
				{ID: "done", Kind: "terminal", Message: "All set."},
				{ID: "sorry", Kind: "terminal", Message: "Passing you over."},
			},
		},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestEngineStartCompletesConversation(t *testing.T) {
	eng, err := New(engineConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	conv, err := eng.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	nextPrompt(t, conv) // name elicitation
	if err := conv.HearTranscript("my name is Jane Smith", 0.95); err != nil {
		t.Fatalf("HearTranscript: %v", err)
	}

	res := waitDone(t, conv)
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if got := res.Captured["name"]; got != "Jane Smith" {
		t.Errorf("captured name = %q, want %q", got, "Jane Smith")
	}
	// reap runs asynchronously after Done
	waitFor(t, 2*time.Second, func() bool { return eng.ActiveConversations() == 0 },
		"conversation never reaped")
}

func TestEngineClosedRejectsStart(t *testing.T) {
	eng, err := New(engineConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := eng.Start(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Start after Close = %v, want ErrEngineClosed", err)
	}
}

func TestEngineResumeFromCheckpoint(t *testing.T) {
	store := checkpoint.NewMemStore()
	eng, err := New(engineConfig(t), nil, WithCheckpoints(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	conv, err := eng.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	nextPrompt(t, conv)

	// Low confidence consumes a retry and forces a checkpoint mid-field.
	if err := conv.HearTranscript("mumble", 0.1); err != nil {
		t.Fatalf("HearTranscript: %v", err)
	}
	nextPrompt(t, conv) // re-elicitation
	id := conv.ID()
	if err := conv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return eng.ActiveConversations() == 0 },
		"closed conversation never reaped")

	resumed, err := eng.Resume(context.Background(), id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	p := nextPrompt(t, resumed)
	if !strings.Contains(strings.ToLower(p.Text), "name") {
		t.Errorf("resume prompt = %q, want a name re-prompt", p.Text)
	}
	if err := resumed.HearTranscript("my name is Jane Smith", 0.95); err != nil {
		t.Fatalf("HearTranscript after resume: %v", err)
	}
	res := waitDone(t, resumed)
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
}

func TestEngineReloadSwapsKnowledge(t *testing.T) {
	eng, err := New(engineConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	if err := eng.Reload(nil); err == nil {
		t.Error("Reload(nil) did not error")
	}
	if err := eng.Reload(engineConfig(t)); err != nil {
		t.Errorf("Reload with a valid config: %v", err)
	}

	conv, err := eng.Start()
	if err != nil {
		t.Fatalf("Start after Reload: %v", err)
	}
	defer conv.Close()
	nextPrompt(t, conv)
}

func TestEngineReloadRejectsBrokenKnowledge(t *testing.T) {
	cfg := &config.Config{
		Graph: config.GraphConfig{
			Start: "ask",
			Nodes: []config.NodeConfig{
				{ID: "ask", Kind: "sequence", Fields: []string{"service"}, OnSuccess: "done", OnFailure: "done"},
				{ID: "done", Kind: "terminal", Message: "Done."},
			},
		},
		Services: []config.ServiceConfig{{Name: "Haircut", Keywords: []string{"haircut"}}},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	// A reload that drops the whole catalog would leave the service field
	// unbuildable; the engine must keep the old knowledge instead.
	empty := *cfg
	empty.Services = nil
	if err := eng.Reload(&empty); err == nil {
		t.Error("Reload with an empty catalog did not error")
	}

	conv, err := eng.Start()
	if err != nil {
		t.Fatalf("Start after rejected reload: %v", err)
	}
	defer conv.Close()
	nextPrompt(t, conv)
}
