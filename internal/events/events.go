// Package events carries the engine's audit stream: every state transition,
// vote, provider call, and chain outcome is emitted as an [Event] to a set of
// [Sink]s.
//
// Sinks are best-effort by contract. Emit never returns an error and never
// blocks the conversation loop: a sink that cannot keep up drops data and the
// engine moves on. [Multi] additionally isolates sink panics so one broken
// consumer cannot take the pipeline down.
package events

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type names an event. The set is closed; sinks may switch on it.
type Type string

const (
	TypeConversationStarted Type = "conversation_started"
	TypeConversationEnded   Type = "conversation_ended"
	TypeTransition          Type = "transition"
	TypeFieldCompleted      Type = "field_completed"
	TypeFieldFailed         Type = "field_failed"
	TypePrompt              Type = "prompt"
	TypeNodeEntered         Type = "node_entered"
	TypeChainCompleted      Type = "chain_completed"
	TypeChainFailed         Type = "chain_failed"
	TypeChainTimeout        Type = "chain_timeout"
	TypeConsensusVote       Type = "consensus_vote"
	TypeProviderCall        Type = "provider_call"
	TypeBreakerOpened       Type = "breaker_opened"
	TypeBreakerClosed       Type = "breaker_closed"
)

// Event is one engine occurrence. Data holds type-specific payload fields;
// values must be JSON-encodable.
type Event struct {
	// ID is a ULID: unique and lexically ordered by creation time, so the
	// journal can sort a conversation's history without a sequence column.
	ID string `json:"id"`

	Type           Type           `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	Data           map[string]any `json:"data,omitempty"`
}

// entropy feeds ULID generation. Locked: events are created from multiple
// conversation goroutines.
var entropy = &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)}

// New builds an event stamped with a fresh ULID and the current UTC time.
func New(typ Type, conversationID string, data map[string]any) Event {
	return Event{
		ID:             ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
		Type:           typ,
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
		Data:           data,
	}
}

// Sink consumes events. Implementations must not block and must tolerate
// concurrent calls.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Multi fans one event out to every sink, recovering per-sink panics.
type Multi []Sink

// Emit delivers e to each sink in order.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		emitSafe(ctx, s, e)
	}
}

func emitSafe(ctx context.Context, s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event sink panicked", "event_type", e.Type, "panic", r)
		}
	}()
	s.Emit(ctx, e)
}

// Discard is a Sink that drops everything. Useful as a default.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(context.Context, Event) {}

var (
	_ Sink = Multi(nil)
	_ Sink = Discard{}
)
