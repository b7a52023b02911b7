package field

import (
	"fmt"
	"strings"

	"github.com/voximply/intake/internal/capture"
)

// FAQ answers a single knowledge question. The captured value is the topic;
// normalization resolves it to the canned answer that gets spoken back.
type FAQ struct {
	entries []catalogEntry
	answers map[string]string
}

// NewFAQ builds the FAQ primitive from the knowledge base in deps.
func NewFAQ(deps Deps) (Primitive, error) {
	if len(deps.Knowledge) == 0 {
		return nil, fmt.Errorf("field: knowledge base is empty")
	}
	f := FAQ{answers: make(map[string]string, len(deps.Knowledge))}
	for _, k := range deps.Knowledge {
		terms := append([]string{k.Topic}, k.Patterns...)
		f.entries = append(f.entries, catalogEntry{label: k.Topic, terms: terms})
		f.answers[strings.ToLower(k.Topic)] = k.Answer
	}
	return f, nil
}

var _ Primitive = FAQ{}

func (FAQ) Type() capture.FieldType { return capture.FieldFAQ }

func (FAQ) Elicit() string {
	return "What would you like to know?"
}

func (f FAQ) Extract(transcript string) (string, bool) {
	label, _, ok := matchCatalog(transcript, f.entries)
	return label, ok
}

func (f FAQ) Validate(raw string) error {
	if _, ok := f.answers[strings.ToLower(strings.TrimSpace(raw))]; !ok {
		return fmt.Errorf("field: no answer on file for %q", raw)
	}
	return nil
}

// Normalize maps a matched topic to its answer text.
func (f FAQ) Normalize(raw string) string {
	if a, ok := f.answers[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return a
	}
	return strings.TrimSpace(raw)
}

func (f FAQ) Confirm(raw string) string {
	return fmt.Sprintf("You're asking about %s, is that right?", strings.TrimSpace(raw))
}

func (FAQ) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (f FAQ) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, f.Extract)
}
