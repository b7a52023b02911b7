package field

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Affirmation and correction handling shared by all primitives. Denials are
// checked before affirmations so "no, that's right out" never confirms, and
// fuzzy matching only rescues near-misses of single affirmation tokens
// ("yeahh", "yup") rather than whole phrases.

// affirmFuzzyThreshold is the Jaro-Winkler floor for accepting a token as a
// misheard affirmation word.
const affirmFuzzyThreshold = 0.88

var denyTokens = map[string]bool{
	"no": true, "nope": true, "nah": true, "not": true, "negative": true,
	"wrong": true, "incorrect": true, "change": true, "actually": true,
	"isn't": true, "don't": true, "didn't": true,
}

var affirmTokens = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "aye": true,
	"correct": true, "right": true, "sure": true, "ok": true, "okay": true,
	"exactly": true, "absolutely": true, "perfect": true, "definitely": true,
	"confirmed": true, "affirmative": true, "good": true, "great": true,
	"fine": true, "lovely": true,
}

var affirmPhrases = []string{
	"that's right", "that is right", "that's correct", "that is correct",
	"that's it", "sounds good", "sounds right", "spot on", "all good",
	"that's the one", "you got it",
}

// isAffirmation reports whether a transcript accepts a read-back value.
func isAffirmation(transcript string) bool {
	s := cleanTranscript(transcript)
	if s == "" {
		return false
	}
	tokens := strings.Fields(s)
	for i, t := range tokens {
		tokens[i] = strings.Trim(t, ".,!?")
	}

	for _, t := range tokens {
		if denyTokens[t] {
			return false
		}
	}
	for _, p := range affirmPhrases {
		if strings.Contains(strings.Join(tokens, " "), p) {
			return true
		}
	}
	for _, t := range tokens {
		if affirmTokens[t] {
			return true
		}
	}
	if len(tokens) == 1 {
		for a := range affirmTokens {
			if matchr.JaroWinkler(tokens[0], a, false) >= affirmFuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// correctionLeadIns are stripped from the front of a correction utterance
// before re-extraction, longest first.
var correctionLeadIns = []string{
	"no no it's", "no it's not it's", "no that's wrong it's", "no it should be",
	"actually it's", "actually it should be", "it should be", "should be",
	"no it's", "no its", "that's wrong it's", "change it to", "change that to",
	"i meant", "i said", "make it", "it's actually", "no,", "no", "actually",
	"it's", "its",
}

// stripCorrectionLeadIn removes denial words and correction phrasing from
// the front of a transcript, leaving whatever replacement value follows.
// Returns "" for a bare denial with no new value.
func stripCorrectionLeadIn(transcript string) string {
	s := cleanTranscript(transcript)
	for changed := true; changed; {
		changed = false
		for _, lead := range correctionLeadIns {
			if s == lead {
				return ""
			}
			if strings.HasPrefix(s, lead+" ") {
				s = strings.TrimSpace(strings.TrimPrefix(s, lead+" "))
				changed = true
			}
		}
	}
	return strings.Trim(s, ".,!? ")
}

// correctionValue strips correction phrasing and re-runs a primitive's
// extraction over the remainder.
func correctionValue(transcript string, extract func(string) (string, bool)) (string, bool) {
	rest := stripCorrectionLeadIn(transcript)
	if rest == "" {
		return "", false
	}
	return extract(rest)
}
