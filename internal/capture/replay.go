package capture

import (
	"fmt"
	"strconv"
)

// Replay rebuilds a FieldCapture by re-applying a recorded history from
// Pending through the real transition function. The opts must describe the
// field the history was recorded against (criticality, retry budget);
// divergence between a recorded step and the recomputed one is reported as an
// error rather than papered over.
func Replay(t FieldType, history []Transition, opts ...Option) (*FieldCapture, error) {
	f := New(t, opts...)
	for i, tr := range history {
		if tr.From != f.State {
			return nil, fmt.Errorf("capture: replay step %d: history starts at %q but field is in %q", i, tr.From, f.State)
		}
		p, err := paramsFromContext(tr.Trigger, tr.Context)
		if err != nil {
			return nil, fmt.Errorf("capture: replay step %d: %w", i, err)
		}
		applied, err := f.Apply(tr.Trigger, p)
		if err != nil {
			return nil, fmt.Errorf("capture: replay step %d: %w", i, err)
		}
		if applied.To != tr.To {
			return nil, fmt.Errorf("capture: replay step %d: recorded %q -> %q but recomputed %q", i, tr.From, tr.To, applied.To)
		}
	}
	return f, nil
}

// paramsFromContext reverses transitionContext.
func paramsFromContext(trigger Trigger, ctx map[string]string) (Params, error) {
	var p Params
	switch trigger {
	case TriggerUserSpoke:
		conf, err := strconv.ParseFloat(ctx[ctxConfidence], 64)
		if err != nil {
			return Params{}, fmt.Errorf("parse confidence %q: %w", ctx[ctxConfidence], err)
		}
		p.Confidence = conf
		p.Raw = ctx[ctxRaw]
	case TriggerValidate, TriggerRepaired:
		valid, err := strconv.ParseBool(ctx[ctxValid])
		if err != nil {
			return Params{}, fmt.Errorf("parse valid %q: %w", ctx[ctxValid], err)
		}
		p.Valid = valid
		p.Ambiguous = ctx[ctxAmbiguous] == "true"
	case TriggerUserCorrected:
		if raw, ok := ctx[ctxRaw]; ok {
			p.Raw = raw
			p.HasRaw = true
		}
	case TriggerComplete:
		p.Normalized = ctx[ctxNormalized]
	}
	return p, nil
}
