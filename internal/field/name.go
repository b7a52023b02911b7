package field

import (
	"fmt"
	"strings"

	"github.com/voximply/intake/internal/capture"
)

var nameLeadIns = []string{
	"my name is", "the name is", "name is", "name's", "this is",
	"i'm", "i am", "im", "it's", "its", "call me", "speaking with",
	"you're speaking with",
}

// nameStopTokens end the name span inside a longer sentence.
var nameStopTokens = map[string]bool{
	"and": true, "but": true, "speaking": true, "here": true, "calling": true,
	"please": true, "thanks": true, "thank": true, "from": true, "on": true,
	"at": true, "my": true, "the": true,
}

// Name captures the caller's name: lead-in phrases stripped, one to four
// word tokens kept.
type Name struct{}

// NewName builds the name primitive.
func NewName(Deps) (Primitive, error) { return Name{}, nil }

var _ Primitive = Name{}

func (Name) Type() capture.FieldType { return capture.FieldName }

func (Name) Elicit() string {
	return "Could I grab your name, please?"
}

func (Name) Extract(transcript string) (string, bool) {
	s := cleanTranscript(transcript)
	for changed := true; changed; {
		changed = false
		for _, lead := range nameLeadIns {
			if strings.HasPrefix(s, lead+" ") {
				s = strings.TrimSpace(strings.TrimPrefix(s, lead+" "))
				changed = true
			}
		}
	}
	var words []string
	for _, t := range strings.Fields(s) {
		t = strings.Trim(t, ".,!?")
		if t == "" || nameStopTokens[t] || !nameWord(t) {
			break
		}
		words = append(words, t)
		if len(words) == 4 {
			break
		}
	}
	if len(words) == 0 {
		return "", false
	}
	return strings.Join(words, " "), true
}

func (Name) Validate(raw string) error {
	words := strings.Fields(strings.TrimSpace(raw))
	if len(words) == 0 || len(words) > 4 {
		return fmt.Errorf("field: %q does not look like a name", raw)
	}
	for _, w := range words {
		if !nameWord(strings.ToLower(w)) {
			return fmt.Errorf("field: %q does not look like a name", raw)
		}
	}
	return nil
}

func (Name) Normalize(raw string) string {
	return titleWords(strings.ToLower(strings.TrimSpace(raw)))
}

func (n Name) Confirm(raw string) string {
	return fmt.Sprintf("That's %s, have I got that right?", n.Normalize(raw))
}

func (Name) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (n Name) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, n.Extract)
}

// nameWord allows letters with interior hyphens and apostrophes.
func nameWord(t string) bool {
	if t == "" {
		return false
	}
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '-' || r == '\'':
		default:
			return false
		}
	}
	return true
}
