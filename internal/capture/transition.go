package capture

import (
	"fmt"
	"strconv"
	"time"
)

// Params carries the trigger-specific inputs to [FieldCapture.Apply]. Which
// fields are read depends on the trigger; unused fields are ignored.
type Params struct {
	// Confidence accompanies TriggerUserSpoke.
	Confidence float64

	// Raw accompanies TriggerUserSpoke (the extracted value) and, when HasRaw
	// is set, TriggerUserCorrected (the replacement value).
	Raw string

	// HasRaw marks Raw as present for TriggerUserCorrected. A correction
	// without a replacement value re-elicits instead of repairing.
	HasRaw bool

	// Valid accompanies TriggerValidate and TriggerRepaired.
	Valid bool

	// Ambiguous marks an invalid verdict as an ambiguity needing a
	// clarification turn. The first ambiguity per field does not consume
	// retry budget.
	Ambiguous bool

	// Normalized accompanies TriggerComplete.
	Normalized string
}

// Transition is the immutable record of one successful state change. The
// Context map carries the trigger params, which is what makes history
// replayable.
type Transition struct {
	From    State             `json:"from"`
	To      State             `json:"to"`
	Trigger Trigger           `json:"trigger"`
	At      time.Time         `json:"at"`
	Context map[string]string `json:"context,omitempty"`
}

// Context keys used in Transition records.
const (
	ctxConfidence = "confidence"
	ctxRaw        = "raw"
	ctxValid      = "valid"
	ctxAmbiguous  = "ambiguous"
	ctxNormalized = "normalized"
	ctxRetryCount = "retry_count"
)

// InvalidTransitionError reports a (state, trigger) pair outside the
// transition table. It indicates a bug in the calling code, not bad user
// input, and must never be swallowed.
type InvalidTransitionError struct {
	Field   FieldType
	State   State
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("capture: invalid transition: trigger %q in state %q (field %q)", e.Trigger, e.State, e.Field)
}

// Apply executes one transition on f and appends the resulting [Transition]
// to its history. It returns the appended record.
//
// The function is total over the transition table: any (state, trigger) pair
// not in the table returns an [*InvalidTransitionError] and leaves f
// completely unmodified. Appending to the history is the only side effect of
// a successful call.
func (f *FieldCapture) Apply(trigger Trigger, p Params) (Transition, error) {
	from := f.State

	// Resolve the target state and effect first; nothing on f may change
	// until the pair is known to be legal.
	var (
		to     State
		effect func()
	)

	switch {
	case from == StatePending && trigger == TriggerStart:
		to = StateEliciting

	case from == StateEliciting && trigger == TriggerUserSpoke:
		if p.Confidence >= MinCaptureConfidence {
			to = StateCaptured
			effect = func() {
				f.Raw = p.Raw
				f.Confidence = p.Confidence
			}
		} else {
			to, effect = f.retryOutcome()
		}

	case from == StateCaptured && trigger == TriggerValidate:
		to, effect = f.verdictOutcome(p)

	case from == StateConfirming && trigger == TriggerUserAffirmed:
		to = StateConfirmed

	case from == StateConfirming && trigger == TriggerUserCorrected:
		if p.HasRaw {
			to = StateRepairing
			effect = func() { f.Raw = p.Raw }
		} else {
			to, effect = f.retryOutcome()
		}

	case from == StateRepairing && trigger == TriggerRepaired:
		to, effect = f.verdictOutcome(p)

	case from == StateConfirmed && trigger == TriggerComplete:
		to = StateCompleted
		effect = func() { f.Normalized = p.Normalized }

	default:
		return Transition{}, &InvalidTransitionError{Field: f.Type, State: from, Trigger: trigger}
	}

	if effect != nil {
		effect()
	}
	f.State = to

	tr := Transition{
		From:    from,
		To:      to,
		Trigger: trigger,
		At:      time.Now().UTC(),
		Context: transitionContext(trigger, p, f.RetryCount),
	}
	f.History = append(f.History, tr)
	return tr, nil
}

// verdictOutcome routes a validation verdict (TriggerValidate or
// TriggerRepaired). The first ambiguous verdict per field re-elicits without
// consuming retry budget; every later failure goes through the retry budget.
// A valid verdict lands in Confirming, except for confident non-critical
// captures out of Captured, which confirm automatically. Critical fields
// always pass through Confirming.
func (f *FieldCapture) verdictOutcome(p Params) (State, func()) {
	switch {
	case !p.Valid && p.Ambiguous && !f.ClarifyUsed:
		return StateEliciting, func() { f.ClarifyUsed = true }

	case !p.Valid:
		return f.retryOutcome()

	case f.Critical:
		return StateConfirming, nil

	case f.State == StateCaptured && f.Confidence >= AutoConfirmConfidence:
		return StateConfirmed, nil

	default:
		return StateConfirming, nil
	}
}

// retryOutcome resolves a recoverable failure: consume one retry and
// re-elicit, or land in Failed once the budget is gone. RetryCount never
// passes MaxRetries.
func (f *FieldCapture) retryOutcome() (State, func()) {
	if f.RetryCount < f.MaxRetries {
		next := f.RetryCount + 1
		if next >= f.MaxRetries {
			return StateFailed, func() { f.RetryCount = next }
		}
		return StateEliciting, func() { f.RetryCount = next }
	}
	return StateFailed, nil
}

// transitionContext records the trigger params (plus the post-transition
// retry count) so the transition can be re-applied during replay.
func transitionContext(trigger Trigger, p Params, retryCount int) map[string]string {
	ctx := map[string]string{ctxRetryCount: strconv.Itoa(retryCount)}
	switch trigger {
	case TriggerUserSpoke:
		ctx[ctxConfidence] = strconv.FormatFloat(p.Confidence, 'g', -1, 64)
		ctx[ctxRaw] = p.Raw
	case TriggerValidate, TriggerRepaired:
		ctx[ctxValid] = strconv.FormatBool(p.Valid)
		if p.Ambiguous {
			ctx[ctxAmbiguous] = "true"
		}
	case TriggerUserCorrected:
		if p.HasRaw {
			ctx[ctxRaw] = p.Raw
		}
	case TriggerComplete:
		ctx[ctxNormalized] = p.Normalized
	}
	return ctx
}
