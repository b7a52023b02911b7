package field

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voximply/intake/internal/capture"
)

// phoneCandidateRe matches digit runs with the separators people and ASR
// engines leave in: spaces, dashes, dots, parentheses.
var phoneCandidateRe = regexp.MustCompile(`\+?\d[\d\s\-().]*\d`)

// Phone captures an Australian phone number: mobiles (04), geographic
// landlines (02, 03, 07, 08), and 1300/1800 business numbers, in national
// or +61 international form.
type Phone struct{}

// NewPhone builds the phone primitive.
func NewPhone(Deps) (Primitive, error) { return Phone{}, nil }

var _ Primitive = Phone{}

func (Phone) Type() capture.FieldType { return capture.FieldPhone }

func (Phone) Elicit() string {
	return "What's the best phone number to reach you on?"
}

func (Phone) Extract(transcript string) (string, bool) {
	s := expandDigitWords(cleanTranscript(transcript))
	var fallback string
	for _, m := range phoneCandidateRe.FindAllString(s, -1) {
		d := phoneDigits(m)
		if _, err := canonicalPhone(d); err == nil {
			return d, true
		}
		if len(strings.TrimPrefix(d, "+")) >= 6 && len(d) > len(fallback) {
			fallback = d
		}
	}
	// A wrong-length run is still an attempt at a number; hand it to
	// validation so the retry flow owns the outcome.
	return fallback, fallback != ""
}

func (Phone) Validate(raw string) error {
	if _, err := canonicalPhone(phoneDigits(raw)); err != nil {
		return err
	}
	return nil
}

func (Phone) Normalize(raw string) string {
	d, err := canonicalPhone(phoneDigits(raw))
	if err != nil {
		return raw
	}
	if strings.HasPrefix(d, "0") {
		return "+61" + d[1:]
	}
	return d
}

func (p Phone) Confirm(raw string) string {
	d, err := canonicalPhone(phoneDigits(raw))
	if err != nil {
		d = phoneDigits(raw)
	}
	return fmt.Sprintf("I have your number as %s. Is that correct?", groupPhone(d))
}

func (Phone) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (p Phone) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, p.Extract)
}

// phoneDigits strips separators, keeping digits and a leading plus.
func phoneDigits(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// canonicalPhone validates a digit string against the Australian number
// plan and returns it in national form (leading 0, or 1300/1800 as-is).
func canonicalPhone(d string) (string, error) {
	switch {
	case strings.HasPrefix(d, "+61"):
		d = "0" + d[3:]
	case strings.HasPrefix(d, "61") && len(d) == 11:
		d = "0" + d[2:]
	}
	switch {
	case len(d) == 10 && strings.HasPrefix(d, "04"):
		return d, nil
	case len(d) == 10 && (strings.HasPrefix(d, "02") || strings.HasPrefix(d, "03") ||
		strings.HasPrefix(d, "07") || strings.HasPrefix(d, "08")):
		return d, nil
	case len(d) == 10 && (strings.HasPrefix(d, "1300") || strings.HasPrefix(d, "1800")):
		return d, nil
	}
	return "", fmt.Errorf("field: %q is not an Australian phone number", d)
}

// groupPhone spaces a national-form number for read-back.
func groupPhone(d string) string {
	switch {
	case len(d) == 10 && strings.HasPrefix(d, "04"):
		return d[:4] + " " + d[4:7] + " " + d[7:]
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		return d[:2] + " " + d[2:6] + " " + d[6:]
	case len(d) == 10:
		return d[:4] + " " + d[4:7] + " " + d[7:]
	}
	return d
}
