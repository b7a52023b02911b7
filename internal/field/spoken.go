package field

import "strings"

// Spoken-form helpers shared by the primitives. ASR transcripts spell out
// digits and symbols ("oh four double two", "5th of june"), so every
// primitive runs a locale pass over the transcript before pattern matching.

// digitWords maps spoken digits to their numeric form. "oh" is the
// Australian-English zero.
var digitWords = map[string]string{
	"zero": "0", "oh": "0", "o": "0",
	"one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// repeatWords expand "double five" to "55" and "triple two" to "222".
var repeatWords = map[string]int{"double": 2, "triple": 3}

// fillerWords are dropped before matching.
var fillerWords = map[string]bool{
	"um": true, "uh": true, "umm": true, "ah": true, "er": true, "erm": true,
}

// ordinalWords maps spoken ordinals to day-of-month numbers.
var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"eleventh": 11, "twelfth": 12, "thirteenth": 13, "fourteenth": 14,
	"fifteenth": 15, "sixteenth": 16, "seventeenth": 17, "eighteenth": 18,
	"nineteenth": 19, "twentieth": 20, "thirtieth": 30, "thirty-first": 31,
}

// teenAndTensWords cover the number words needed for street numbers and
// compound ordinals ("twenty sixth").
var teenAndTensWords = map[string]int{
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// cleanTranscript lowercases, trims, drops filler tokens, and collapses
// whitespace. Punctuation that carries meaning for a primitive (slashes in
// dates, plus signs in phone numbers) is left alone.
func cleanTranscript(s string) string {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	out := tokens[:0]
	for _, t := range tokens {
		if fillerWords[strings.Trim(t, ".,!?")] {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

// expandDigitWords rewrites spoken digits and double/triple repeats into
// numerals, merging adjacent digit tokens into one run: "oh four double two
// one" becomes "04221". Non-digit tokens pass through unchanged.
func expandDigitWords(s string) string {
	tokens := strings.Fields(s)
	var out []string
	var run strings.Builder

	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}

	for i := 0; i < len(tokens); i++ {
		t := strings.Trim(tokens[i], ".,!?")

		if n, ok := repeatWords[t]; ok && i+1 < len(tokens) {
			next := strings.Trim(tokens[i+1], ".,!?")
			if d, ok := digitWords[next]; ok {
				run.WriteString(strings.Repeat(d, n))
				i++
				continue
			}
		}
		if d, ok := digitWords[t]; ok {
			run.WriteString(d)
			continue
		}
		if isDigits(t) {
			run.WriteString(t)
			continue
		}
		flush()
		out = append(out, tokens[i])
	}
	flush()
	return strings.Join(out, " ")
}

// wordToNumber parses a number word or compound ("twenty six") in [0, 99].
func wordToNumber(s string) (int, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if d, ok := digitWords[s]; ok {
		return int(d[0] - '0'), true
	}
	if n, ok := teenAndTensWords[s]; ok {
		return n, true
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' })
	if len(parts) == 2 {
		tens, ok1 := teenAndTensWords[parts[0]]
		if !ok1 || tens < 20 {
			return 0, false
		}
		if d, ok := digitWords[parts[1]]; ok {
			return tens + int(d[0]-'0'), true
		}
	}
	return 0, false
}

// wordToOrdinal parses an ordinal word or compound ("twenty sixth") as a
// day of month in [1, 31].
func wordToOrdinal(s string) (int, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, ok := ordinalWords[s]; ok {
		return n, true
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' })
	if len(parts) == 2 {
		tens, ok := teenAndTensWords[parts[0]]
		if !ok || (tens != 20 && tens != 30) {
			return 0, false
		}
		if unit, ok := ordinalWords[parts[1]]; ok && unit < 10 {
			return tens + unit, true
		}
	}
	return 0, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
