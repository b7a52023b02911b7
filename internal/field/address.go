package field

import (
	"fmt"
	"strings"

	"github.com/voximply/intake/internal/capture"
)

// streetTypes maps spoken street types and their abbreviations to the
// canonical short form used in normalized addresses.
var streetTypes = map[string]string{
	"street": "St", "st": "St",
	"road": "Rd", "rd": "Rd",
	"avenue": "Ave", "ave": "Ave", "av": "Ave",
	"drive": "Dr", "dr": "Dr",
	"court": "Ct", "ct": "Ct",
	"crescent": "Cres", "cres": "Cres",
	"lane": "Ln", "ln": "Ln",
	"place": "Pl", "pl": "Pl",
	"parade": "Pde", "pde": "Pde",
	"terrace": "Tce", "tce": "Tce",
	"highway": "Hwy", "hwy": "Hwy",
	"boulevard": "Blvd", "blvd": "Blvd",
	"circuit": "Cct", "cct": "Cct",
	"close": "Cl", "cl": "Cl",
	"esplanade": "Esp", "esp": "Esp",
	"grove": "Gr", "gr": "Gr",
	"square": "Sq", "sq": "Sq",
	"way": "Way",
}

// stateNames maps spoken state names and abbreviations to the canonical
// abbreviation. Multi-word names are matched as token windows.
var stateNames = map[string]string{
	"nsw": "NSW", "new south wales": "NSW",
	"vic": "VIC", "victoria": "VIC",
	"qld": "QLD", "queensland": "QLD",
	"sa": "SA", "south australia": "SA",
	"wa": "WA", "western australia": "WA",
	"tas": "TAS", "tasmania": "TAS",
	"nt": "NT", "northern territory": "NT",
	"act": "ACT", "australian capital territory": "ACT",
}

var addressLeadIns = []string{
	"my address is", "the address is", "address is", "i live at",
	"i'm at", "im at", "it's at", "its at", "it's", "its", "at",
}

// Address captures an Australian street address. Extraction needs a street
// number and street type; validation additionally requires a locality,
// either a postcode or a suburb with a state.
type Address struct{}

// NewAddress builds the address primitive.
func NewAddress(Deps) (Primitive, error) { return Address{}, nil }

var _ Primitive = Address{}

func (Address) Type() capture.FieldType { return capture.FieldAddress }

func (Address) Elicit() string {
	return "What's the address, including suburb and postcode?"
}

func (Address) Extract(transcript string) (string, bool) {
	s := expandDigitWords(cleanTranscript(transcript))
	for _, lead := range addressLeadIns {
		if strings.HasPrefix(s, lead+" ") {
			s = strings.TrimPrefix(s, lead+" ")
			break
		}
	}
	p := parseAddress(s)
	if p.Number == "" || p.Type == "" {
		return "", false
	}
	// Keep everything from the street number onward so validation sees
	// the locality words even when component parsing was partial.
	tokens := addressTokens(s)
	for i, t := range tokens {
		if startsWithDigit(t) {
			return strings.Join(tokens[i:], " "), true
		}
	}
	return "", false
}

func (Address) Validate(raw string) error {
	p := parseAddress(raw)
	if m := p.missing(); len(m) > 0 {
		return fmt.Errorf("field: address is missing %s", strings.Join(m, " and "))
	}
	return nil
}

func (Address) Normalize(raw string) string {
	p := parseAddress(raw)
	if m := p.missing(); len(m) > 0 {
		return strings.TrimSpace(raw)
	}
	return p.format()
}

func (a Address) Confirm(raw string) string {
	return fmt.Sprintf("Just to confirm, the address is %s?", a.Normalize(raw))
}

func (Address) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (a Address) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, a.Extract)
}

// addressParts is the component view of one address.
type addressParts struct {
	Number   string
	Street   string
	Type     string
	Suburb   string
	State    string
	Postcode string
}

func (p addressParts) missing() []string {
	var m []string
	if p.Number == "" {
		m = append(m, "a street number")
	}
	if p.Street == "" || p.Type == "" {
		m = append(m, "a street name")
	}
	if p.Postcode == "" && (p.Suburb == "" || p.State == "") {
		m = append(m, "a suburb and state or postcode")
	}
	return m
}

func (p addressParts) format() string {
	var b strings.Builder
	b.WriteString(p.Number)
	b.WriteByte(' ')
	b.WriteString(titleWords(p.Street))
	b.WriteByte(' ')
	b.WriteString(p.Type)
	if p.Suburb != "" {
		b.WriteString(", ")
		b.WriteString(titleWords(p.Suburb))
	}
	if p.State != "" {
		b.WriteByte(' ')
		b.WriteString(p.State)
	}
	if p.Postcode != "" {
		b.WriteByte(' ')
		b.WriteString(p.Postcode)
	}
	return b.String()
}

func addressTokens(s string) []string {
	tokens := strings.Fields(strings.ToLower(s))
	out := tokens[:0]
	for _, t := range tokens {
		t = strings.Trim(t, ".,!?")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseAddress splits a despoken transcript into address components. The
// shape is number, street name, street type, suburb, state, postcode, with
// the locality tail optional.
func parseAddress(s string) addressParts {
	tokens := addressTokens(s)
	var p addressParts

	numberIdx := -1
	for i, t := range tokens {
		if startsWithDigit(t) && !(len(t) == 4 && isDigits(t) && i == len(tokens)-1) {
			numberIdx = i
			p.Number = t
			break
		}
	}
	if numberIdx < 0 {
		return p
	}

	postcodeIdx := -1
	for i := len(tokens) - 1; i > numberIdx; i-- {
		if len(tokens[i]) == 4 && isDigits(tokens[i]) {
			postcodeIdx = i
			p.Postcode = tokens[i]
			break
		}
	}

	stateStart := -1
	for i := numberIdx + 1; i < len(tokens) && stateStart < 0; i++ {
		for w := 4; w >= 1; w-- {
			if i+w > len(tokens) || (postcodeIdx >= 0 && i+w > postcodeIdx && i <= postcodeIdx) {
				continue
			}
			if abbr, ok := stateNames[strings.Join(tokens[i:i+w], " ")]; ok {
				p.State = abbr
				stateStart = i
				break
			}
		}
	}

	tailStart := len(tokens)
	if postcodeIdx >= 0 {
		tailStart = postcodeIdx
	}
	if stateStart >= 0 && stateStart < tailStart {
		tailStart = stateStart
	}

	typeIdx := -1
	for i := numberIdx + 2; i < tailStart; i++ {
		if abbr, ok := streetTypes[tokens[i]]; ok {
			typeIdx = i
			p.Type = abbr
			break
		}
	}
	if typeIdx < 0 {
		return p
	}
	p.Street = strings.Join(tokens[numberIdx+1:typeIdx], " ")
	if typeIdx+1 < tailStart {
		p.Suburb = strings.Join(tokens[typeIdx+1:tailStart], " ")
	}
	return p
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// titleWords uppercases the first letter of each word, keeping hyphenated
// parts intact ("o'connor" stays a single word).
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	parts := strings.Split(w, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		p = strings.ToUpper(p[:1]) + p[1:]
		// Prefixes like O'Brien and D'Angelo capitalize past the apostrophe.
		if len(p) > 2 && p[1] == '\'' {
			p = p[:2] + strings.ToUpper(p[2:3]) + p[3:]
		}
		parts[i] = p
	}
	return strings.Join(parts, "-")
}
