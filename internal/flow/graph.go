// Package flow models the conversation objective as a validated, immutable
// graph of sequence and terminal nodes.
//
// Nodes live in a flat arena indexed by id; edges are ids, never pointers.
// All structural rules are enforced once at construction: after [NewGraph]
// returns, traversal can assume every edge resolves, at least one terminal
// exists, and no path loops.
package flow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/voximply/intake/internal/capture"
)

// NodeID names a node in the graph.
type NodeID string

// NodeKind discriminates node behavior.
type NodeKind string

const (
	// KindSequence nodes run a field-capture chain, then leave along the
	// success or failure edge.
	KindSequence NodeKind = "sequence"

	// KindTerminal nodes end the conversation with a closing message.
	KindTerminal NodeKind = "terminal"
)

// IsValid reports whether k is a known node kind.
func (k NodeKind) IsValid() bool {
	return k == KindSequence || k == KindTerminal
}

// Node is one unit of the objective graph. Fields apply to sequence nodes;
// Message applies to terminal nodes. An empty edge id means the edge is
// absent.
type Node struct {
	ID        NodeID
	Kind      NodeKind
	Fields    []capture.FieldType
	OnSuccess NodeID
	OnFailure NodeID
	Message   string
}

// Graph is an immutable arena of validated nodes.
type Graph struct {
	nodes map[NodeID]Node
	start NodeID
}

// NewGraph validates nodes and returns the arena. All structural problems
// are reported together, joined into one error.
func NewGraph(start NodeID, nodes []Node) (*Graph, error) {
	var errs []error

	if len(nodes) == 0 {
		return nil, errors.New("flow: graph has no nodes")
	}

	arena := make(map[NodeID]Node, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			errs = append(errs, errors.New("flow: node with empty id"))
			continue
		}
		if _, dup := arena[n.ID]; dup {
			errs = append(errs, fmt.Errorf("flow: duplicate node id %q", n.ID))
			continue
		}
		arena[n.ID] = n
	}

	terminals := 0
	for _, n := range nodes {
		switch n.Kind {
		case KindSequence:
			if len(n.Fields) == 0 {
				errs = append(errs, fmt.Errorf("flow: sequence node %q has no fields", n.ID))
			}
			for _, ft := range n.Fields {
				if !ft.IsValid() {
					errs = append(errs, fmt.Errorf("flow: node %q: unknown field type %q", n.ID, ft))
				}
			}
		case KindTerminal:
			terminals++
			if n.OnSuccess != "" || n.OnFailure != "" {
				errs = append(errs, fmt.Errorf("flow: terminal node %q declares outgoing edges", n.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("flow: node %q: unknown kind %q", n.ID, n.Kind))
		}

		for _, ref := range []NodeID{n.OnSuccess, n.OnFailure} {
			if ref == "" {
				continue
			}
			if _, ok := arena[ref]; !ok {
				errs = append(errs, fmt.Errorf("flow: node %q references missing node %q", n.ID, ref))
			}
		}
	}
	if terminals == 0 {
		errs = append(errs, errors.New("flow: graph has no terminal node"))
	}
	if _, ok := arena[start]; !ok {
		errs = append(errs, fmt.Errorf("flow: start node %q does not exist", start))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cycle := findCycle(arena, nodes); cycle != "" {
		return nil, fmt.Errorf("flow: cycle through node %q", cycle)
	}
	return &Graph{nodes: arena, start: start}, nil
}

// findCycle runs a depth-first walk over every node with an explicit
// recursion set, returning a node on a cycle or "" when the graph is a DAG.
func findCycle(arena map[NodeID]Node, nodes []Node) NodeID {
	const (
		unseen = iota
		onStack
		done
	)
	state := make(map[NodeID]int, len(arena))

	var visit func(id NodeID) NodeID
	visit = func(id NodeID) NodeID {
		switch state[id] {
		case onStack:
			return id
		case done:
			return ""
		}
		state[id] = onStack
		n := arena[id]
		for _, next := range []NodeID{n.OnSuccess, n.OnFailure} {
			if next == "" {
				continue
			}
			if hit := visit(next); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}

	for _, n := range nodes {
		if hit := visit(n.ID); hit != "" {
			return hit
		}
	}
	return ""
}

// Start returns the entry node id.
func (g *Graph) Start() NodeID { return g.start }

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// NodeIDs returns every node id in sorted order.
func (g *Graph) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Pointer tracks the current node of one conversation. It is owned by that
// conversation and never shared.
type Pointer struct {
	graph   *Graph
	current NodeID
}

// Enter returns a pointer positioned at the graph's start node.
func (g *Graph) Enter() *Pointer {
	return &Pointer{graph: g, current: g.start}
}

// Current returns the node under the pointer.
func (p *Pointer) Current() Node {
	return p.graph.nodes[p.current]
}

// AtTerminal reports whether the pointer rests on a terminal node.
func (p *Pointer) AtTerminal() bool {
	return p.Current().Kind == KindTerminal
}

// OnSuccess follows the success edge. When the edge is absent the pointer
// stays put and moved is false.
func (p *Pointer) OnSuccess() (Node, bool) {
	return p.follow(p.Current().OnSuccess)
}

// OnFailure follows the failure edge. When the edge is absent the pointer
// stays put and moved is false.
func (p *Pointer) OnFailure() (Node, bool) {
	return p.follow(p.Current().OnFailure)
}

func (p *Pointer) follow(next NodeID) (Node, bool) {
	if next == "" {
		return p.Current(), false
	}
	p.current = next
	return p.Current(), true
}

// MoveTo repositions the pointer, for checkpoint restore.
func (p *Pointer) MoveTo(id NodeID) error {
	if _, ok := p.graph.nodes[id]; !ok {
		return fmt.Errorf("flow: no node %q", id)
	}
	p.current = id
	return nil
}
