package field

import (
	"fmt"
	"strings"

	"github.com/voximply/intake/internal/capture"
)

// ServiceCatalog captures which bookable service the caller wants, matching
// the transcript against catalog names and keywords.
type ServiceCatalog struct {
	entries []catalogEntry
	names   []string
	byLower map[string]string
}

// NewService builds the service primitive from the catalog in deps.
func NewService(deps Deps) (Primitive, error) {
	if len(deps.Services) == 0 {
		return nil, fmt.Errorf("field: service catalog is empty")
	}
	sc := ServiceCatalog{byLower: make(map[string]string, len(deps.Services))}
	for _, s := range deps.Services {
		terms := append([]string{s.Name}, s.Keywords...)
		sc.entries = append(sc.entries, catalogEntry{label: s.Name, terms: terms})
		sc.names = append(sc.names, s.Name)
		sc.byLower[strings.ToLower(s.Name)] = s.Name
	}
	return sc, nil
}

var _ Primitive = ServiceCatalog{}

func (ServiceCatalog) Type() capture.FieldType { return capture.FieldService }

func (sc ServiceCatalog) Elicit() string {
	return fmt.Sprintf("What can we book you in for? We offer %s.", joinList(sc.names))
}

func (sc ServiceCatalog) Extract(transcript string) (string, bool) {
	label, _, ok := matchCatalog(transcript, sc.entries)
	return label, ok
}

func (sc ServiceCatalog) Validate(raw string) error {
	if _, ok := sc.byLower[strings.ToLower(strings.TrimSpace(raw))]; !ok {
		return fmt.Errorf("field: %q is not a service we offer", raw)
	}
	return nil
}

func (sc ServiceCatalog) Normalize(raw string) string {
	if name, ok := sc.byLower[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return name
	}
	return strings.TrimSpace(raw)
}

func (sc ServiceCatalog) Confirm(raw string) string {
	return fmt.Sprintf("You'd like to book a %s, is that right?", sc.Normalize(raw))
}

func (ServiceCatalog) IsAffirmation(transcript string) bool { return isAffirmation(transcript) }

func (sc ServiceCatalog) ExtractCorrection(transcript string) (string, bool) {
	return correctionValue(transcript, sc.Extract)
}

// joinList renders names as spoken prose: "a, b and c".
func joinList(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
