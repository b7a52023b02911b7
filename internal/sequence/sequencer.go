// Package sequence drives an ordered chain of capture fields through their
// state machines, one transcript at a time.
//
// A [Sequencer] owns one run: the fields in order, a cursor, and the
// normalized values accumulated as fields complete. Transcripts always
// route to the field under the cursor; the resulting state decides what is
// spoken next. The sequencer is not safe for concurrent use — each
// conversation owns one and feeds it from a single goroutine.
package sequence

import (
	"errors"
	"fmt"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/field"
)

// ErrHalted is returned by [Sequencer.HandleTranscript] after the run has
// completed or failed.
var ErrHalted = errors.New("sequence: run already finished")

// retryPreamble softens a re-asked question after a failed attempt.
const retryPreamble = "Sorry, let's try that again. "

// Step pairs a primitive with the capture record it drives.
type Step struct {
	Primitive field.Primitive
	Capture   *capture.FieldCapture
}

// NewStep builds a step with a fresh capture record for the primitive's
// field type.
func NewStep(p field.Primitive, opts ...capture.Option) Step {
	return Step{Primitive: p, Capture: capture.New(p.Type(), opts...)}
}

// StepTransition tags a state-machine transition with the field it happened
// on, for journaling.
type StepTransition struct {
	Field  capture.FieldType
	Index  int
	Record capture.Transition
}

// Outcome reports everything one call produced: the prompt to speak, the
// transitions appended across all fields touched, and the run-level
// signals. Consensus reflects the desired voter state after the call.
type Outcome struct {
	Prompt      string
	Transitions []StepTransition

	Done     bool
	Failed   bool
	Captured map[capture.FieldType]string
	Field    capture.FieldType

	Consensus bool
}

// Sequencer owns one run over an ordered field chain.
type Sequencer struct {
	steps    []Step
	index    int
	captured map[capture.FieldType]string

	done   bool
	failed bool

	// clarify holds the pending clarification question after an ambiguous
	// validation verdict, consumed by the next prompt emission.
	clarify string
}

// New builds a sequencer over steps. At least one step is required.
func New(steps []Step) (*Sequencer, error) {
	if len(steps) == 0 {
		return nil, errors.New("sequence: no fields to capture")
	}
	for i, st := range steps {
		if st.Primitive == nil || st.Capture == nil {
			return nil, fmt.Errorf("sequence: step %d is incomplete", i)
		}
		if st.Primitive.Type() != st.Capture.Type {
			return nil, fmt.Errorf("sequence: step %d pairs %s primitive with %s capture",
				i, st.Primitive.Type(), st.Capture.Type)
		}
	}
	return &Sequencer{steps: steps, captured: make(map[capture.FieldType]string)}, nil
}

// Resume rebuilds a sequencer mid-run from checkpointed fields, cursor, and
// accumulated data. Steps must carry the replayed capture records.
func Resume(steps []Step, index int, captured map[capture.FieldType]string) (*Sequencer, error) {
	s, err := New(steps)
	if err != nil {
		return nil, err
	}
	if index < 0 || index > len(steps) {
		return nil, fmt.Errorf("sequence: resume index %d out of range", index)
	}
	s.index = index
	for k, v := range captured {
		s.captured[k] = v
	}
	s.done = index == len(steps)
	for _, st := range steps {
		if st.Capture.State == capture.StateFailed {
			s.failed = true
		}
	}
	return s, nil
}

// Start activates the first field and returns its elicitation prompt.
func (s *Sequencer) Start() (Outcome, error) {
	var out Outcome
	if err := s.apply(&out, capture.TriggerStart, capture.Params{}); err != nil {
		return Outcome{}, err
	}
	out.Prompt = s.active().Primitive.Elicit()
	out.Consensus = s.WantConsensus()
	return out, nil
}

// HandleTranscript routes one transcript to the active field and advances
// the run. An error means the run is over or the state machine was driven
// outside its table, which is a bug, not user input.
func (s *Sequencer) HandleTranscript(transcript string, confidence float64) (Outcome, error) {
	if s.done || s.failed {
		return Outcome{}, ErrHalted
	}

	var out Outcome
	st := s.active()
	var err error
	switch st.Capture.State {
	case capture.StateEliciting:
		err = s.onElicited(&out, st, transcript, confidence)
	case capture.StateConfirming:
		err = s.onConfirming(&out, st, transcript)
	default:
		err = &capture.InvalidTransitionError{
			Field: st.Capture.Type, State: st.Capture.State, Trigger: capture.TriggerUserSpoke,
		}
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := s.settle(&out); err != nil {
		return Outcome{}, err
	}
	out.Consensus = s.WantConsensus()
	return out, nil
}

// onElicited captures a spoken answer and, when it sticks, validates it.
func (s *Sequencer) onElicited(out *Outcome, st Step, transcript string, confidence float64) error {
	raw, ok := st.Primitive.Extract(transcript)
	if !ok {
		// No candidate in the utterance. Let validation fail the stored
		// transcript so the retry budget owns the outcome.
		raw = transcript
	}
	if err := s.apply(out, capture.TriggerUserSpoke, capture.Params{Confidence: confidence, Raw: raw}); err != nil {
		return err
	}
	if st.Capture.State != capture.StateCaptured {
		return nil
	}
	return s.validate(out, st, capture.TriggerValidate)
}

// onConfirming resolves a read-back answer: affirmation confirms, anything
// else is treated as a correction attempt.
func (s *Sequencer) onConfirming(out *Outcome, st Step, transcript string) error {
	if st.Primitive.IsAffirmation(transcript) {
		return s.apply(out, capture.TriggerUserAffirmed, capture.Params{})
	}
	raw, ok := st.Primitive.ExtractCorrection(transcript)
	if err := s.apply(out, capture.TriggerUserCorrected, capture.Params{Raw: raw, HasRaw: ok}); err != nil {
		return err
	}
	if st.Capture.State != capture.StateRepairing {
		return nil
	}
	return s.validate(out, st, capture.TriggerRepaired)
}

// validate runs the primitive's verdict over the stored raw value and feeds
// it to the state machine, capturing any clarification question.
func (s *Sequencer) validate(out *Outcome, st Step, trigger capture.Trigger) error {
	err := st.Primitive.Validate(st.Capture.Raw)
	p := capture.Params{Valid: err == nil}
	if ae, ok := field.IsAmbiguous(err); ok {
		p.Ambiguous = true
		s.clarify = ae.Clarify
	}
	return s.apply(out, trigger, p)
}

// settle emits the prompt or run-level signal the active field's
// post-transition state calls for, completing and advancing as needed.
func (s *Sequencer) settle(out *Outcome) error {
	st := s.active()
	switch st.Capture.State {
	case capture.StateEliciting:
		if s.clarify != "" {
			out.Prompt = s.clarify
			s.clarify = ""
			return nil
		}
		out.Prompt = retryPreamble + st.Primitive.Elicit()
		return nil

	case capture.StateConfirming:
		s.clarify = ""
		out.Prompt = st.Primitive.Confirm(st.Capture.Raw)
		return nil

	case capture.StateConfirmed:
		normalized := st.Primitive.Normalize(st.Capture.Raw)
		if err := s.apply(out, capture.TriggerComplete, capture.Params{Normalized: normalized}); err != nil {
			return err
		}
		s.captured[st.Capture.Type] = normalized
		return s.advance(out)

	case capture.StateFailed:
		s.failed = true
		out.Failed = true
		out.Field = st.Capture.Type
		return nil
	}
	return nil
}

// advance moves the cursor past a completed field: either starting the next
// one or finishing the run with the accumulated data.
func (s *Sequencer) advance(out *Outcome) error {
	s.index++
	if s.index < len(s.steps) {
		if err := s.apply(out, capture.TriggerStart, capture.Params{}); err != nil {
			return err
		}
		out.Prompt = s.active().Primitive.Elicit()
		return nil
	}
	s.done = true
	out.Done = true
	out.Captured = s.CapturedData()
	return nil
}

// apply fires a trigger on the active field and records the transition.
func (s *Sequencer) apply(out *Outcome, trigger capture.Trigger, p capture.Params) error {
	st := s.active()
	tr, err := st.Capture.Apply(trigger, p)
	if err != nil {
		return err
	}
	out.Transitions = append(out.Transitions, StepTransition{
		Field:  st.Capture.Type,
		Index:  s.index,
		Record: tr,
	})
	return nil
}

func (s *Sequencer) active() Step { return s.steps[s.index] }

// WantConsensus reports whether multi-recognizer voting should be on:
// enabled only while the active field is critical.
func (s *Sequencer) WantConsensus() bool {
	if s.done || s.failed {
		return false
	}
	return s.active().Capture.Critical
}

// Done reports whether every field completed.
func (s *Sequencer) Done() bool { return s.done }

// Failed reports whether the run halted on a failed field.
func (s *Sequencer) Failed() bool { return s.failed }

// CurrentIndex returns the cursor position.
func (s *Sequencer) CurrentIndex() int { return s.index }

// Fields returns the capture records in order, for checkpointing.
func (s *Sequencer) Fields() []*capture.FieldCapture {
	fields := make([]*capture.FieldCapture, len(s.steps))
	for i, st := range s.steps {
		fields[i] = st.Capture
	}
	return fields
}

// CapturedData returns a copy of the values accumulated so far.
func (s *Sequencer) CapturedData() map[capture.FieldType]string {
	out := make(map[capture.FieldType]string, len(s.captured))
	for k, v := range s.captured {
		out[k] = v
	}
	return out
}
