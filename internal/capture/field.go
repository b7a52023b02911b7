package capture

// FieldType identifies which capture primitive owns a field.
type FieldType string

const (
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldAddress  FieldType = "address"
	FieldDateTime FieldType = "datetime"
	FieldName     FieldType = "name"
	FieldService  FieldType = "service"
	FieldFAQ      FieldType = "faq"
)

// IsValid reports whether t is a known field type.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldEmail, FieldPhone, FieldAddress, FieldDateTime, FieldName, FieldService, FieldFAQ:
		return true
	}
	return false
}

// DefaultMaxRetries bounds re-elicitation per field unless overridden.
const DefaultMaxRetries = 3

// FieldCapture is the capture record for one data item. Fields are exported
// for snapshotting and inspection, but all mutation must go through [Apply];
// writing them directly breaks replay.
type FieldCapture struct {
	// Type selects the owning primitive.
	Type FieldType

	// State is the current lifecycle position.
	State State

	// Raw is the extracted (or transcript) value as last heard.
	Raw string

	// Normalized is the canonical value, set when the field completes.
	Normalized string

	// Confidence is the ASR confidence recorded with the raw value, in [0,1].
	Confidence float64

	// RetryCount is how many re-elicitations have been consumed. Never
	// exceeds MaxRetries.
	RetryCount int

	// MaxRetries is the retry budget; the failure that brings RetryCount to
	// MaxRetries lands the field in Failed.
	MaxRetries int

	// Critical marks a field whose confirmation is mandatory regardless of
	// confidence.
	Critical bool

	// ClarifyUsed records that the field's one free ambiguity-clarification
	// turn has been consumed.
	ClarifyUsed bool

	// History is the ordered, append-only record of every transition.
	History []Transition
}

// Option adjusts a new FieldCapture.
type Option func(*FieldCapture)

// WithCritical marks the field as critical.
func WithCritical() Option {
	return func(f *FieldCapture) { f.Critical = true }
}

// WithMaxRetries overrides the retry budget. Zero is honored: the first
// failure is then terminal.
func WithMaxRetries(n int) Option {
	return func(f *FieldCapture) {
		if n >= 0 {
			f.MaxRetries = n
		}
	}
}

// New returns a pending FieldCapture for t with the default retry budget.
func New(t FieldType, opts ...Option) *FieldCapture {
	f := &FieldCapture{
		Type:       t,
		State:      StatePending,
		MaxRetries: DefaultMaxRetries,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}
