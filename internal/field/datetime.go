package field

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/voximply/intake/internal/capture"
)

// DateTime captures an appointment date with an optional time, reading
// Australian day-first dates. A numeric date whose day and month fields are
// both at most twelve and differ ("5/6/2026") is ambiguous and triggers a
// clarification turn instead of burning a retry.
type DateTime struct {
	now func() time.Time
}

// NewDateTime builds the datetime primitive using the clock from deps.
func NewDateTime(deps Deps) (Primitive, error) {
	return DateTime{now: deps.now}, nil
}

var _ Primitive = DateTime{}

func (DateTime) Type() capture.FieldType { return capture.FieldDateTime }

func (DateTime) Elicit() string {
	return "What day would you like to come in, and roughly what time?"
}

func (d DateTime) Extract(transcript string) (string, bool) {
	s := despeakDateTime(transcript)
	timeText, rest := splitTime(s)
	date := findDate(rest)
	switch {
	case date == "" && timeText == "":
		return "", false
	case date == "":
		return timeText, true
	case timeText == "":
		return date, true
	}
	return date + " at " + timeText, true
}

func (d DateTime) Validate(raw string) error {
	_, _, err := d.resolve(raw)
	return err
}

func (d DateTime) Normalize(raw string) string {
	t, dateOnly, err := d.resolve(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	if dateOnly {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02T15:04")
}

func (d DateTime) Confirm(raw string) string {
	t, dateOnly, err := d.resolve(raw)
	if err != nil {
		return fmt.Sprintf("Just to confirm, that's %s?", strings.TrimSpace(raw))
	}
	spoken := t.Format("Monday, 2 January 2006")
	if !dateOnly {
		spoken += t.Format(" at 3:04 PM")
	}
	return fmt.Sprintf("Just to confirm, that's %s?", spoken)
}

func (DateTime) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (d DateTime) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, d.Extract)
}

// ── Spoken-form rewriting ──────────────────────────────────────────────────────

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdaysByName = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// despeakDateTime rewrites spoken date and time forms into parseable text:
// ordinal words into "26th", digit words into digits, "half past three"
// into "3:30", "noon" into "12:00 pm".
func despeakDateTime(s string) string {
	tokens := strings.Fields(cleanTranscript(s))
	for i, t := range tokens {
		tokens[i] = strings.Trim(t, ".,!?")
	}

	var out []string
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]

		// Compound ordinals: "twenty sixth" -> "26th".
		if i+1 < len(tokens) {
			if n, ok := wordToOrdinal(t + " " + tokens[i+1]); ok {
				out = append(out, ordinalNumber(n))
				i++
				continue
			}
		}
		if n, ok := wordToOrdinal(t); ok {
			out = append(out, ordinalNumber(n))
			continue
		}

		// "half past three" / "quarter past three" / "quarter to three".
		if (t == "half" || t == "quarter") && i+2 < len(tokens) && (tokens[i+1] == "past" || tokens[i+1] == "to") {
			if h, ok := hourToken(tokens[i+2]); ok {
				out = append(out, relativeClock(t, tokens[i+1], h))
				i += 2
				continue
			}
		}

		switch t {
		case "noon", "midday":
			out = append(out, "12:00", "pm")
			continue
		case "midnight":
			out = append(out, "12:00", "am")
			continue
		case "o'clock", "oclock":
			if len(out) > 0 {
				if h, ok := hourToken(out[len(out)-1]); ok {
					out[len(out)-1] = fmt.Sprintf("%d:00", h)
				}
			}
			continue
		}

		// "three thirty" -> "3:30" when a tens word follows an hour.
		if h, ok := hourToken(t); ok {
			if i+1 < len(tokens) {
				if m, used, ok := minuteTokens(tokens[i+1:]); ok {
					out = append(out, fmt.Sprintf("%d:%02d", h, m))
					i += used
					continue
				}
			}
			out = append(out, strconv.Itoa(h))
			continue
		}

		if d, ok := digitWords[t]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

func ordinalNumber(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func hourToken(s string) (int, bool) {
	if isDigits(s) && len(s) <= 2 {
		n, _ := strconv.Atoi(s)
		if n >= 1 && n <= 23 {
			return n, true
		}
	}
	if n, ok := wordToNumber(s); ok && n >= 1 && n <= 12 {
		return n, true
	}
	return 0, false
}

// minuteTokens reads "thirty" or "thirty five" as minutes, reporting how
// many tokens it consumed.
func minuteTokens(tokens []string) (minute, used int, ok bool) {
	tens, found := teenAndTensWords[tokens[0]]
	if !found || tens < 10 || tens > 50 {
		return 0, 0, false
	}
	if tens >= 20 && len(tokens) > 1 {
		if d, ok := digitWords[tokens[1]]; ok {
			return tens + int(d[0]-'0'), 2, true
		}
	}
	return tens, 1, true
}

func relativeClock(part, direction string, hour int) string {
	min := 30
	if part == "quarter" {
		min = 15
	}
	if direction == "to" {
		hour--
		if hour == 0 {
			hour = 12
		}
		min = 60 - min
	}
	return fmt.Sprintf("%d:%02d", hour, min)
}

// ── Locating expressions ───────────────────────────────────────────────────────

const monthAlternation = `january|february|march|april|may|june|july|august|september|sept|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var (
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})(?:[/\-.](\d{2,4}))?\b`)
	dayMonthRe    = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthAlternation + `)(?:\s+(\d{4}))?\b`)
	monthDayRe    = regexp.MustCompile(`\b(` + monthAlternation + `)\s+(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?(?:\s+(\d{4}))?\b`)
	weekdayRe     = regexp.MustCompile(`\b(?:(next|this)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relativeRe    = regexp.MustCompile(`\b(day after tomorrow|tomorrow|today|tonight)\b`)

	// Dot-separated clock readings need a meridiem, otherwise "5.30" is a
	// day-first date.
	colonTimeRe  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	dotTimeRe    = regexp.MustCompile(`\b(\d{1,2})\.(\d{2})\s*(am|pm)\b`)
	bareHourRe   = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	markedHourRe = regexp.MustCompile(`\b(?:at|around|about|by|from)\s+(\d{1,2})\b`)
	clockRe      = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?: (am|pm))?$`)
)

// findDate returns the date expression inside a despoken string, if any.
func findDate(s string) string {
	switch {
	case dayMonthRe.MatchString(s):
		return dayMonthRe.FindString(s)
	case monthDayRe.MatchString(s):
		return monthDayRe.FindString(s)
	case numericDateRe.MatchString(s):
		return numericDateRe.FindString(s)
	case relativeRe.MatchString(s):
		return relativeRe.FindString(s)
	case weekdayRe.MatchString(s):
		return weekdayRe.FindString(s)
	}
	return ""
}

// splitTime slices the first time expression out of a despoken string,
// returning it in "H:MM( am|pm)?" form plus the remainder. A bare hour
// ("at 5") only counts as a time when the remainder still holds a date, so
// it cannot swallow the date itself.
func splitTime(s string) (timeText, rest string) {
	if m := colonTimeRe.FindStringSubmatch(s); m != nil {
		return joinTime(m[1], m[2], m[3]), strings.Replace(s, m[0], " ", 1)
	}
	if m := dotTimeRe.FindStringSubmatch(s); m != nil {
		return joinTime(m[1], m[2], m[3]), strings.Replace(s, m[0], " ", 1)
	}
	if m := bareHourRe.FindStringSubmatch(s); m != nil {
		return joinTime(m[1], "", m[2]), strings.Replace(s, m[0], " ", 1)
	}
	if m := markedHourRe.FindStringSubmatch(s); m != nil {
		if rest := strings.Replace(s, m[0], " ", 1); findDate(rest) != "" {
			return joinTime(m[1], "", ""), rest
		}
	}
	return "", s
}

func joinTime(h, m, mer string) string {
	if m == "" {
		m = "00"
	}
	out := h + ":" + m
	if mer != "" {
		out += " " + mer
	}
	return out
}

// ── Resolution ─────────────────────────────────────────────────────────────────

// resolve parses a raw extracted expression into a concrete local time.
// The error is a [*AmbiguousError] when the numeric day and month cannot be
// told apart.
func (d DateTime) resolve(raw string) (time.Time, bool, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	now := d.now()

	timeText, rest := splitTime(s)
	hour, minute, err := parseClock(timeText)
	if err != nil {
		return time.Time{}, false, err
	}

	day, month, year, err := resolveDate(rest, now)
	if err != nil {
		return time.Time{}, false, err
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, now.Location())
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false, fmt.Errorf("field: %d %s is not a real date", day, month)
	}
	if dateBefore(t, now) {
		return time.Time{}, false, fmt.Errorf("field: %s has already passed", t.Format("2 January 2006"))
	}
	return t, timeText == "", nil
}

func resolveDate(s string, now time.Time) (day int, month time.Month, year int, err error) {
	if m := dayMonthRe.FindStringSubmatch(s); m != nil {
		day, _ = strconv.Atoi(m[1])
		return withYear(day, monthsByName[m[2]], m[3], now)
	}
	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		day, _ = strconv.Atoi(m[2])
		return withYear(day, monthsByName[m[1]], m[3], now)
	}
	if m := numericDateRe.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		switch {
		case a <= 12 && b <= 12 && a != b:
			return 0, 0, 0, &AmbiguousError{
				Reason: fmt.Sprintf("%d/%d reads as a day or a month either way", a, b),
				Clarify: fmt.Sprintf("Did you mean the %s of %s, or the %s of %s?",
					ordinalNumber(a), time.Month(b), ordinalNumber(b), time.Month(a)),
			}
		case b > 12 && a <= 12:
			// Month-first was spoken; flip to day-first.
			a, b = b, a
		case a > 31 || b > 12:
			return 0, 0, 0, fmt.Errorf("field: %s/%s is not a date", m[1], m[2])
		}
		return withYear(a, time.Month(b), m[3], now)
	}
	if m := relativeRe.FindStringSubmatch(s); m != nil {
		t := now
		switch m[1] {
		case "tomorrow":
			t = now.AddDate(0, 0, 1)
		case "day after tomorrow":
			t = now.AddDate(0, 0, 2)
		}
		return t.Day(), t.Month(), t.Year(), nil
	}
	if m := weekdayRe.FindStringSubmatch(s); m != nil {
		target := weekdaysByName[m[2]]
		delta := (int(target) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		if m[1] == "next" {
			delta += 7
		}
		t := now.AddDate(0, 0, delta)
		return t.Day(), t.Month(), t.Year(), nil
	}
	return 0, 0, 0, fmt.Errorf("field: no date in %q", strings.TrimSpace(s))
}

// withYear fills in a missing year with the next occurrence of the date and
// widens two-digit years.
func withYear(day int, month time.Month, yearText string, now time.Time) (int, time.Month, int, error) {
	if day < 1 || day > 31 {
		return 0, 0, 0, fmt.Errorf("field: %d is not a day of the month", day)
	}
	if yearText == "" {
		year := now.Year()
		candidate := time.Date(year, month, day, 23, 59, 0, 0, now.Location())
		if candidate.Before(now) {
			year++
		}
		return day, month, year, nil
	}
	year, _ := strconv.Atoi(yearText)
	if year < 100 {
		year += 2000
	}
	return day, month, year, nil
}

// parseClock reads the canonical "H:MM( am|pm)?" form splitTime produces.
// Hours one through seven with no meridiem are read as afternoon, the
// usual intent for bookings.
func parseClock(timeText string) (hour, minute int, err error) {
	if timeText == "" {
		return 0, 0, nil
	}
	m := clockRe.FindStringSubmatch(timeText)
	if m == nil {
		return 0, 0, fmt.Errorf("field: %q is not a time of day", timeText)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("field: %q is not a time of day", timeText)
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
	}
	return hour, minute, nil
}

// dateBefore compares calendar days, so a booking made for later today
// still passes.
func dateBefore(t, now time.Time) bool {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty != ny {
		return ty < ny
	}
	if tm != nm {
		return tm < nm
	}
	return td < nd
}
