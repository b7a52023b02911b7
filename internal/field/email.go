package field

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voximply/intake/internal/capture"
)

// emailRe matches a candidate address inside an already-despoken transcript.
var emailRe = regexp.MustCompile(`[a-z0-9][a-z0-9._%+\-]*@[a-z0-9][a-z0-9.\-]*\.[a-z]{2,}`)

// emailSpokenSymbols rewrite spoken symbol names into their characters.
var emailSpokenSymbols = map[string]string{
	"at": "@", "dot": ".", "period": ".", "underscore": "_",
	"dash": "-", "hyphen": "-", "minus": "-", "plus": "+",
}

// Email captures an email address, despeaking "jane at gmail dot com" style
// transcripts before matching.
type Email struct{}

// NewEmail builds the email primitive.
func NewEmail(Deps) (Primitive, error) { return Email{}, nil }

var _ Primitive = Email{}

func (Email) Type() capture.FieldType { return capture.FieldEmail }

func (Email) Elicit() string {
	return "What's the best email address for you?"
}

func (Email) Extract(transcript string) (string, bool) {
	s := expandDigitWords(cleanTranscript(transcript))
	tokens := strings.Fields(s)
	for i, t := range tokens {
		bare := strings.Trim(t, ".,!?")
		if sym, ok := emailSpokenSymbols[bare]; ok {
			tokens[i] = sym
		} else {
			tokens[i] = bare
		}
	}
	// Glue symbol tokens to their neighbours so "jane @ gmail . com"
	// collapses without merging the surrounding words of the sentence.
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && !isEmailSymbol(t) && !isEmailSymbol(tokens[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	m := emailRe.FindString(b.String())
	return m, m != ""
}

func (Email) Validate(raw string) error {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(s) || emailRe.FindString(s) != s {
		return fmt.Errorf("field: %q is not an email address", raw)
	}
	if strings.Contains(s, "..") {
		return fmt.Errorf("field: %q is not an email address", raw)
	}
	return nil
}

func (Email) Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (e Email) Confirm(raw string) string {
	return fmt.Sprintf("I have your email as %s. Is that right?", speakEmail(e.Normalize(raw)))
}

func (Email) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (e Email) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, e.Extract)
}

func isEmailSymbol(t string) bool {
	return t == "@" || t == "." || t == "_" || t == "-" || t == "+"
}

// speakEmail renders an address the way it should be read aloud.
func speakEmail(addr string) string {
	r := strings.NewReplacer("@", " at ", ".", " dot ", "_", " underscore ", "-", " dash ")
	return r.Replace(addr)
}
