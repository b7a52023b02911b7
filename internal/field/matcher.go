package field

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Catalog matching for the service and FAQ primitives. Transcript n-grams
// are scored against each entry's terms in two stages: Double Metaphone
// code overlap gates a lower Jaro-Winkler threshold, and entries with no
// phonetic overlap need the higher fuzzy threshold. Phonetic hits outrank
// fuzzy-only hits regardless of score.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
	maxGramLen        = 4
)

// catalogEntry is one matchable target: the label to store plus the spoken
// terms that select it.
type catalogEntry struct {
	label string
	terms []string
}

// matchStopTokens never form an n-gram on their own.
var matchStopTokens = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "i'd": true, "i'll": true,
	"to": true, "for": true, "of": true, "in": true, "on": true, "and": true,
	"is": true, "are": true, "do": true, "you": true, "your": true, "my": true,
	"like": true, "want": true, "need": true, "book": true, "get": true,
	"have": true, "what": true, "when": true, "how": true, "can": true,
	"please": true, "about": true, "with": true, "me": true, "it": true,
}

// matchCatalog finds the entry whose terms best match any n-gram of the
// transcript. Returned ok is false when nothing clears a threshold.
func matchCatalog(transcript string, entries []catalogEntry) (label string, score float64, ok bool) {
	tokens := strings.Fields(cleanTranscript(transcript))
	for i, t := range tokens {
		tokens[i] = strings.Trim(t, ".,!?")
	}

	type best struct {
		label    string
		score    float64
		phonetic bool
	}
	var top best

	consider := func(label string, s float64, phonetic bool) {
		switch {
		case phonetic && !top.phonetic:
			top = best{label, s, true}
		case phonetic == top.phonetic && s > top.score:
			top = best{label, s, phonetic}
		}
	}

	for _, gram := range grams(tokens) {
		gramTokens := strings.Fields(gram)
		gramCodes := metaphoneCodes(gramTokens)
		for _, e := range entries {
			for _, term := range e.terms {
				termLower := strings.ToLower(strings.TrimSpace(term))
				if termLower == "" {
					continue
				}
				if gram == termLower {
					consider(e.label, 1.0, true)
					continue
				}
				termTokens := strings.Fields(termLower)
				jw := bestSimilarity(gramTokens, termTokens, gram, termLower)
				if codesOverlap(gramCodes, metaphoneCodes(termTokens)) {
					if jw >= phoneticThreshold {
						consider(e.label, jw, true)
					}
				} else if jw >= fuzzyThreshold {
					consider(e.label, jw, false)
				}
			}
		}
	}
	if top.label == "" {
		return "", 0, false
	}
	return top.label, top.score, true
}

// grams yields the candidate n-grams of a token list, longest first so
// multi-word terms win over their own substrings at equal score.
func grams(tokens []string) []string {
	var out []string
	for n := maxGramLen; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			window := tokens[i : i+n]
			if n == 1 && matchStopTokens[window[0]] {
				continue
			}
			out = append(out, strings.Join(window, " "))
		}
	}
	return out
}

// metaphoneCodes returns the union of Double Metaphone codes for tokens,
// skipping empty codes and stop tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		if matchStopTokens[t] {
			continue
		}
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity takes the highest Jaro-Winkler score across full strings,
// space-stripped strings, and the best token pair.
func bestSimilarity(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		if matchStopTokens[at] {
			continue
		}
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
