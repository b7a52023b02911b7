package flow

import (
	"strings"
	"testing"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/field"
)

func bookingNodes() []Node {
	return []Node{
		{
			ID:        "capture_contact",
			Kind:      KindSequence,
			Fields:    []capture.FieldType{capture.FieldName, capture.FieldPhone},
			OnSuccess: "confirm_booking",
			OnFailure: "handoff",
		},
		{ID: "confirm_booking", Kind: KindTerminal, Message: "You're booked in."},
		{ID: "handoff", Kind: KindTerminal, Message: "Let me get someone to help."},
	}
}

func TestNewGraphAcceptsValidDAG(t *testing.T) {
	g, err := NewGraph("capture_contact", bookingNodes())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	if g.Len() != 3 || g.Start() != "capture_contact" {
		t.Errorf("graph = %d nodes start %q", g.Len(), g.Start())
	}
}

func TestNewGraphRejectsCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindSequence, Fields: []capture.FieldType{capture.FieldName}, OnSuccess: "b"},
		{ID: "b", Kind: KindSequence, Fields: []capture.FieldType{capture.FieldName}, OnSuccess: "a", OnFailure: "end"},
		{ID: "end", Kind: KindTerminal},
	}
	if _, err := NewGraph("a", nodes); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("NewGraph(cycle) = %v, want cycle error", err)
	}

	self := []Node{
		{ID: "a", Kind: KindSequence, Fields: []capture.FieldType{capture.FieldName}, OnSuccess: "a", OnFailure: "end"},
		{ID: "end", Kind: KindTerminal},
	}
	if _, err := NewGraph("a", self); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("NewGraph(self-cycle) = %v, want cycle error", err)
	}
}

func TestNewGraphRejectsMissingTerminal(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindSequence, Fields: []capture.FieldType{capture.FieldName}},
	}
	if _, err := NewGraph("a", nodes); err == nil || !strings.Contains(err.Error(), "terminal") {
		t.Errorf("NewGraph(no terminal) = %v, want terminal error", err)
	}
}

func TestNewGraphJoinsStructuralErrors(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindSequence, OnSuccess: "ghost"},
		{ID: "a", Kind: KindTerminal},
		{ID: "b", Kind: NodeKind("loop")},
	}
	_, err := NewGraph("missing", nodes)
	if err == nil {
		t.Fatalf("NewGraph = nil error")
	}
	for _, want := range []string{"no fields", "missing node", "duplicate", "unknown kind", "does not exist"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestNewGraphRejectsTerminalWithEdges(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindSequence, Fields: []capture.FieldType{capture.FieldName}, OnSuccess: "end"},
		{ID: "end", Kind: KindTerminal, OnSuccess: "a"},
	}
	if _, err := NewGraph("a", nodes); err == nil || !strings.Contains(err.Error(), "outgoing edges") {
		t.Errorf("NewGraph(terminal with edges) = %v, want edge error", err)
	}
}

func TestNewGraphRejectsUnknownFieldType(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindSequence, Fields: []capture.FieldType{"postcode"}, OnSuccess: "end"},
		{ID: "end", Kind: KindTerminal},
	}
	if _, err := NewGraph("a", nodes); err == nil || !strings.Contains(err.Error(), "unknown field type") {
		t.Errorf("NewGraph(bad field) = %v, want field type error", err)
	}
}

func TestPointerFollowsEdges(t *testing.T) {
	g, err := NewGraph("capture_contact", bookingNodes())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	p := g.Enter()
	if p.Current().ID != "capture_contact" || p.AtTerminal() {
		t.Fatalf("Enter at %q terminal=%v", p.Current().ID, p.AtTerminal())
	}

	n, moved := p.OnSuccess()
	if !moved || n.ID != "confirm_booking" || !p.AtTerminal() {
		t.Fatalf("OnSuccess -> %q moved=%v", n.ID, moved)
	}
	if n.Message != "You're booked in." {
		t.Errorf("terminal message = %q", n.Message)
	}

	// Terminal has no edges; the pointer stays put.
	n, moved = p.OnSuccess()
	if moved || n.ID != "confirm_booking" {
		t.Errorf("OnSuccess at terminal -> %q moved=%v, want unchanged", n.ID, moved)
	}
	if _, moved = p.OnFailure(); moved {
		t.Errorf("OnFailure at terminal moved")
	}
}

func TestPointerFailureEdge(t *testing.T) {
	g, err := NewGraph("capture_contact", bookingNodes())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	p := g.Enter()
	n, moved := p.OnFailure()
	if !moved || n.ID != "handoff" {
		t.Errorf("OnFailure -> %q moved=%v, want handoff", n.ID, moved)
	}
}

func TestPointerMoveTo(t *testing.T) {
	g, err := NewGraph("capture_contact", bookingNodes())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	p := g.Enter()
	if err := p.MoveTo("handoff"); err != nil || p.Current().ID != "handoff" {
		t.Errorf("MoveTo(handoff) = %v at %q", err, p.Current().ID)
	}
	if err := p.MoveTo("ghost"); err == nil {
		t.Errorf("MoveTo(ghost) = nil error")
	}
}

func TestBuildSequenceResolvesPrimitives(t *testing.T) {
	g, err := NewGraph("capture_contact", bookingNodes())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	strict := true
	rules := map[capture.FieldType]FieldRule{
		capture.FieldName:  {Critical: &strict},
		capture.FieldPhone: {MaxRetries: intPtr(1)},
	}
	build := NewStepBuilder(field.DefaultRegistry(), field.Deps{}, rules)

	seq, err := g.BuildSequence("capture_contact", build)
	if err != nil {
		t.Fatalf("BuildSequence: %v", err)
	}
	fields := seq.Fields()
	if len(fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(fields))
	}
	if !fields[0].Critical {
		t.Errorf("name rule override not applied")
	}
	if !fields[1].Critical {
		t.Errorf("phone lost its default criticality")
	}
	if fields[1].MaxRetries != 1 {
		t.Errorf("phone MaxRetries = %d, want 1", fields[1].MaxRetries)
	}
}

func TestBuildSequenceRejectsWrongNodes(t *testing.T) {
	g, err := NewGraph("capture_contact", bookingNodes())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	build := NewStepBuilder(field.DefaultRegistry(), field.Deps{}, nil)

	if _, err := g.BuildSequence("confirm_booking", build); err == nil {
		t.Errorf("BuildSequence(terminal) = nil error")
	}
	if _, err := g.BuildSequence("ghost", build); err == nil {
		t.Errorf("BuildSequence(missing) = nil error")
	}
}

func TestBuildSequencePropagatesBuilderErrors(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindSequence, Fields: []capture.FieldType{capture.FieldService}, OnSuccess: "end"},
		{ID: "end", Kind: KindTerminal},
	}
	g, err := NewGraph("a", nodes)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	// No catalog in deps: the service primitive cannot be built.
	build := NewStepBuilder(field.DefaultRegistry(), field.Deps{}, nil)
	if _, err := g.BuildSequence("a", build); err == nil {
		t.Errorf("BuildSequence without catalog = nil error")
	}
}

func intPtr(n int) *int { return &n }
