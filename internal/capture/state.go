// Package capture implements the deterministic per-field state machine at the
// center of the engine.
//
// A [FieldCapture] tracks one piece of structured data (an email address, a
// phone number) from elicitation through validation, confirmation, and
// completion. All mutation goes through [FieldCapture.Apply], a transition
// function that is total over a fixed table: any (state, trigger) pair outside
// the table is a contract violation that mutates nothing. Every successful
// transition appends a [Transition] record to the field's history, and
// [Replay] rebuilds identical state by re-applying that history from scratch.
//
// The one invariant everything here protects: a field marked critical can
// never reach Completed without passing through Confirming, no matter how
// confident the recognizer was.
package capture

// State is the lifecycle position of a FieldCapture.
type State string

const (
	// StatePending is the initial state before elicitation starts.
	StatePending State = "pending"

	// StateEliciting means the field's prompt has been asked and the engine is
	// waiting for the caller to answer.
	StateEliciting State = "eliciting"

	// StateCaptured means an utterance cleared the confidence gate and its
	// extracted raw value is stored, pending validation.
	StateCaptured State = "captured"

	// StateValidating is reserved for asynchronous validation. The current
	// table validates synchronously out of Captured and never produces it; the
	// value is kept so persisted snapshots remain decodable.
	StateValidating State = "validating"

	// StateConfirming means the engine has read the value back and is waiting
	// for the caller to affirm or correct it.
	StateConfirming State = "confirming"

	// StateRepairing means the caller supplied a replacement value during
	// confirmation and it is being re-validated.
	StateRepairing State = "repairing"

	// StateConfirmed means the value is accepted, either by the caller's
	// affirmation or automatically for confident non-critical captures.
	StateConfirmed State = "confirmed"

	// StateCompleted is terminal: the normalized value has been handed to the
	// sequencer.
	StateCompleted State = "completed"

	// StateFailed is terminal: the retry budget is exhausted.
	StateFailed State = "failed"
)

// IsValid reports whether s is a declared state.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateEliciting, StateCaptured, StateValidating,
		StateConfirming, StateRepairing, StateConfirmed, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Trigger names an input to the transition function.
type Trigger string

const (
	// TriggerStart begins elicitation of a pending field.
	TriggerStart Trigger = "start"

	// TriggerUserSpoke delivers an utterance with its ASR confidence.
	TriggerUserSpoke Trigger = "user_spoke"

	// TriggerValidate delivers the validation verdict for a captured value.
	TriggerValidate Trigger = "validate"

	// TriggerUserAffirmed records the caller accepting the read-back value.
	TriggerUserAffirmed Trigger = "user_affirmed"

	// TriggerUserCorrected records the caller rejecting the read-back value,
	// optionally with a replacement.
	TriggerUserCorrected Trigger = "user_corrected"

	// TriggerRepaired delivers the validation verdict for a replacement value.
	TriggerRepaired Trigger = "repaired"

	// TriggerComplete finalizes a confirmed field with its normalized value.
	TriggerComplete Trigger = "complete"
)

// Confidence gates for TriggerUserSpoke and the validate auto-confirm path.
const (
	// MinCaptureConfidence is the ASR confidence below which an utterance is
	// re-elicited instead of captured.
	MinCaptureConfidence = 0.4

	// AutoConfirmConfidence is the confidence at or above which a valid
	// non-critical capture skips the confirmation turn. Critical fields are
	// always confirmed regardless of this gate.
	AutoConfirmConfidence = 0.7
)
