package flow

import (
	"fmt"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/field"
	"github.com/voximply/intake/internal/sequence"
)

// StepBuilder resolves a field type into a runnable sequence step.
type StepBuilder func(capture.FieldType) (sequence.Step, error)

// FieldRule overrides per-field capture tuning. Nil members keep the
// defaults: criticality from the field type, retry budget from the state
// machine.
type FieldRule struct {
	Critical   *bool
	MaxRetries *int
}

// NewStepBuilder returns the standard builder: primitives come from the
// registry with deps, criticality defaults per field type, and rules apply
// per-field overrides.
func NewStepBuilder(reg *field.Registry, deps field.Deps, rules map[capture.FieldType]FieldRule) StepBuilder {
	return func(ft capture.FieldType) (sequence.Step, error) {
		p, err := reg.Create(ft, deps)
		if err != nil {
			return sequence.Step{}, err
		}

		critical := field.Critical(ft)
		var opts []capture.Option
		if r, ok := rules[ft]; ok {
			if r.Critical != nil {
				critical = *r.Critical
			}
			if r.MaxRetries != nil {
				opts = append(opts, capture.WithMaxRetries(*r.MaxRetries))
			}
		}
		if critical {
			opts = append(opts, capture.WithCritical())
		}
		return sequence.NewStep(p, opts...), nil
	}
}

// BuildSequence instantiates the field chain for a sequence node.
func (g *Graph) BuildSequence(id NodeID, build StepBuilder) (*sequence.Sequencer, error) {
	n, ok := g.Node(id)
	if !ok {
		return nil, fmt.Errorf("flow: no node %q", id)
	}
	if n.Kind != KindSequence {
		return nil, fmt.Errorf("flow: node %q is %s, not a sequence", id, n.Kind)
	}

	steps := make([]sequence.Step, 0, len(n.Fields))
	for _, ft := range n.Fields {
		st, err := build(ft)
		if err != nil {
			return nil, fmt.Errorf("flow: node %q field %s: %w", id, ft, err)
		}
		steps = append(steps, st)
	}
	return sequence.New(steps)
}
