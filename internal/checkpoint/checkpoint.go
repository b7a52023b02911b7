// Package checkpoint persists conversation state so an interrupted call can
// resume exactly where it stopped.
//
// A [Snapshot] carries the scalar state of every capture record plus the
// graph cursor and accumulated values. It is written after each processed
// utterance and deleted when the conversation finishes. Transition history is
// not part of a snapshot; the event journal keeps the audit trail.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/voximply/intake/internal/capture"
)

// ErrNotFound is returned by [Store.Load] when no checkpoint exists for the
// conversation.
var ErrNotFound = errors.New("checkpoint: not found")

// FieldSnapshot is the persisted state of one capture record. It carries
// everything that influences future behavior, including the retry budget and
// criticality, so a resume is unaffected by configuration changes made while
// the conversation was parked.
type FieldSnapshot struct {
	Type        capture.FieldType `json:"type"`
	State       capture.State     `json:"state"`
	Raw         string            `json:"raw,omitempty"`
	Normalized  string            `json:"normalized,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
	RetryCount  int               `json:"retry_count,omitempty"`
	MaxRetries  int               `json:"max_retries"`
	Critical    bool              `json:"critical,omitempty"`
	ClarifyUsed bool              `json:"clarify_used,omitempty"`
}

// SnapField captures the persisted form of one live record.
func SnapField(f *capture.FieldCapture) FieldSnapshot {
	return FieldSnapshot{
		Type:        f.Type,
		State:       f.State,
		Raw:         f.Raw,
		Normalized:  f.Normalized,
		Confidence:  f.Confidence,
		RetryCount:  f.RetryCount,
		MaxRetries:  f.MaxRetries,
		Critical:    f.Critical,
		ClarifyUsed: f.ClarifyUsed,
	}
}

// SnapFields captures the persisted form of a field chain, in order.
func SnapFields(fields []*capture.FieldCapture) []FieldSnapshot {
	out := make([]FieldSnapshot, len(fields))
	for i, f := range fields {
		out[i] = SnapField(f)
	}
	return out
}

// Restore rebuilds a live capture record from its persisted form. The
// record's history starts empty.
func (fs FieldSnapshot) Restore() *capture.FieldCapture {
	return &capture.FieldCapture{
		Type:        fs.Type,
		State:       fs.State,
		Raw:         fs.Raw,
		Normalized:  fs.Normalized,
		Confidence:  fs.Confidence,
		RetryCount:  fs.RetryCount,
		MaxRetries:  fs.MaxRetries,
		Critical:    fs.Critical,
		ClarifyUsed: fs.ClarifyUsed,
	}
}

// Snapshot is one conversation's full persisted state.
type Snapshot struct {
	ConversationID string                       `json:"conversation_id"`
	NodeID         string                       `json:"node_id"`
	FieldIndex     int                          `json:"field_index"`
	Fields         []FieldSnapshot              `json:"fields"`
	Captured       map[capture.FieldType]string `json:"captured,omitempty"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Fields = append([]FieldSnapshot(nil), s.Fields...)
	if s.Captured != nil {
		out.Captured = make(map[capture.FieldType]string, len(s.Captured))
		for k, v := range s.Captured {
			out.Captured[k] = v
		}
	}
	return out
}

// Store persists snapshots keyed by conversation id. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save writes or replaces the conversation's snapshot.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the conversation's snapshot, or [ErrNotFound].
	Load(ctx context.Context, conversationID string) (Snapshot, error)

	// Delete removes the conversation's snapshot. Deleting a missing
	// snapshot is not an error.
	Delete(ctx context.Context, conversationID string) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases held resources.
	Close()
}
