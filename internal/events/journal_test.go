package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	return j, path
}

// waitForHistory polls until the async writer has persisted n events.
func waitForHistory(t *testing.T, j *Journal, conversationID string, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		evs, err := j.History(context.Background(), conversationID)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(evs) >= n {
			return evs
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal has %d events, want %d", len(evs), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJournalPersistsInOrder(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()
	ctx := context.Background()

	j.Emit(ctx, New(TypeConversationStarted, "c1", nil))
	j.Emit(ctx, New(TypeTransition, "c1", map[string]any{"field": "email", "to": "eliciting"}))
	j.Emit(ctx, New(TypeChainCompleted, "c1", map[string]any{"fields": float64(1)}))
	j.Emit(ctx, New(TypeTransition, "other", nil))

	evs := waitForHistory(t, j, "c1", 3)
	if len(evs) != 3 {
		t.Fatalf("history = %d events, want 3", len(evs))
	}

	wantTypes := []Type{TypeConversationStarted, TypeTransition, TypeChainCompleted}
	for i, e := range evs {
		if e.Type != wantTypes[i] {
			t.Errorf("event[%d].Type = %s, want %s", i, e.Type, wantTypes[i])
		}
		if e.ConversationID != "c1" {
			t.Errorf("event[%d].ConversationID = %q", i, e.ConversationID)
		}
	}
	if evs[1].Data["field"] != "email" {
		t.Errorf("data round-trip: %v", evs[1].Data)
	}
	if j.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", j.Dropped())
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	j, path := openTestJournal(t)
	ctx := context.Background()

	j.Emit(ctx, New(TypeConversationStarted, "c1", nil))
	waitForHistory(t, j, "c1", 1)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	evs, err := j2.History(ctx, "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != TypeConversationStarted {
		t.Errorf("history after reopen = %+v", evs)
	}
}

func TestJournalCloseDrainsQueue(t *testing.T) {
	j, path := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		j.Emit(ctx, New(TypePrompt, "c1", map[string]any{"n": float64(i)}))
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	evs, err := j2.History(ctx, "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(evs) != 20 {
		t.Errorf("drained %d events, want 20", len(evs))
	}
}

func TestJournalEmitAfterCloseIsNoop(t *testing.T) {
	j, _ := openTestJournal(t)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	j.Emit(context.Background(), New(TypePrompt, "c1", nil)) // must not panic
}

func TestJournalPing(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()
	if err := j.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
