// Package field implements the capture primitives: one small, deterministic
// component per field type that knows how to elicit, extract, validate,
// normalize, and confirm values of that type from voice transcripts.
//
// Primitives are pure with respect to conversation state. They hold only
// construction-time configuration (service catalog, knowledge base, clock)
// and never mutate it afterwards, so a single instance is safe to share
// across conversations. All dialogue state lives in
// [capture.FieldCapture]; the sequencer consults a primitive and feeds the
// verdict into the state machine.
package field

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voximply/intake/internal/capture"
)

// ErrNotRegistered is returned by [Registry.Create] for an unknown field type.
var ErrNotRegistered = errors.New("field: type not registered")

// Primitive is the capability set every field type provides.
//
// Extract and ExtractCorrection report ok=false when the transcript holds
// no candidate value; the sequencer treats that as a failed attempt.
// Validate returns nil for a usable value, a [*AmbiguousError] when the
// value cannot be trusted without a clarification turn, and any other error
// for a plainly invalid value.
type Primitive interface {
	Type() capture.FieldType

	// Elicit returns the opening prompt asking the caller for the field.
	Elicit() string

	// Extract pulls a raw candidate value out of a transcript.
	Extract(transcript string) (raw string, ok bool)

	// Validate checks a raw value extracted earlier.
	Validate(raw string) error

	// Normalize converts a valid raw value into its canonical stored form.
	Normalize(raw string) string

	// Confirm returns the read-back prompt asking the caller to verify raw.
	Confirm(raw string) string

	// IsAffirmation reports whether a transcript accepts the read-back value.
	IsAffirmation(transcript string) bool

	// ExtractCorrection pulls a replacement value out of a correction
	// utterance such as "no, it's jane at gmail dot com".
	ExtractCorrection(transcript string) (raw string, ok bool)
}

// AmbiguousError reports a value that parses more than one way. Clarify is
// the question that resolves it, asked without charging the caller a retry
// on first occurrence.
type AmbiguousError struct {
	Reason  string
	Clarify string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("field: ambiguous value: %s", e.Reason)
}

// IsAmbiguous reports whether err is an [*AmbiguousError] and returns it.
func IsAmbiguous(err error) (*AmbiguousError, bool) {
	var ae *AmbiguousError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Service is one bookable catalog entry.
type Service struct {
	Name     string
	Keywords []string
}

// KnowledgeEntry is one answerable topic in the knowledge base.
type KnowledgeEntry struct {
	Topic    string
	Patterns []string
	Answer   string
}

// Deps carries the construction-time context primitives draw on. Zero
// values are usable: Now defaults to [time.Now], and the catalog and
// knowledge base default to empty.
type Deps struct {
	Services  []Service
	Knowledge []KnowledgeEntry
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Constructor builds a primitive from its dependencies.
type Constructor func(Deps) (Primitive, error)

// Registry maps field types to primitive constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[capture.FieldType]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[capture.FieldType]Constructor)}
}

// DefaultRegistry returns a registry with all built-in primitives.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(capture.FieldEmail, NewEmail)
	r.Register(capture.FieldPhone, NewPhone)
	r.Register(capture.FieldAddress, NewAddress)
	r.Register(capture.FieldDateTime, NewDateTime)
	r.Register(capture.FieldName, NewName)
	r.Register(capture.FieldService, NewService)
	r.Register(capture.FieldFAQ, NewFAQ)
	return r
}

// Register adds or replaces the constructor for a field type.
func (r *Registry) Register(t capture.FieldType, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[t] = ctor
}

// Create builds a primitive for the given field type.
func (r *Registry) Create(t capture.FieldType, deps Deps) (Primitive, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, t)
	}
	return ctor(deps)
}

// Critical reports whether a field type is treated as critical by default:
// a wrong value is costly downstream, so confirmation is never skipped.
func Critical(t capture.FieldType) bool {
	switch t {
	case capture.FieldEmail, capture.FieldPhone, capture.FieldAddress, capture.FieldDateTime:
		return true
	}
	return false
}
