package blockflow

import (
	"errors"
	"fmt"
)

// Graph errors
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("duplicate node ID")
	ErrInvalidEdge   = errors.New("invalid edge")
	ErrEmptyGraph    = errors.New("graph has no nodes")
)

// Branch is the tag on an edge selecting which outgoing path a node's
// result follows.
type Branch string

const (
	// BranchOK is followed after an OK result.
	BranchOK Branch = "ok"

	// BranchFail is followed after a FAIL result, or after an ERROR result
	// when the source node has ErrorToFail set.
	BranchFail Branch = "fail"
)

// Node is one plugin-backed step in a graph document.
type Node struct {
	// ID is unique within the graph.
	ID string `json:"id" yaml:"id"`

	// PluginID selects the handler that executes this node.
	PluginID string `json:"plugin_id" yaml:"plugin_id"`

	// Title is the human-facing node name. Falls back to PluginID when empty.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Params is passed verbatim to the plugin handler.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// InputVarRef, when set, names the variable whose value is resolved and
	// passed to the handler as input.
	InputVarRef string `json:"input_var_ref,omitempty" yaml:"input_var_ref,omitempty"`

	// OutputVarRef, when set, names the variable the handler's output is
	// persisted to after an OK result.
	OutputVarRef string `json:"output_var_ref,omitempty" yaml:"output_var_ref,omitempty"`

	// ErrorToFail reroutes engine-level ERROR results to the fail branch.
	ErrorToFail bool `json:"error_to_fail,omitempty" yaml:"error_to_fail,omitempty"`

	// Breakpoint pauses the run immediately before this node's handler runs.
	Breakpoint bool `json:"breakpoint,omitempty" yaml:"breakpoint,omitempty"`
}

// DisplayTitle returns the node title, falling back to the plugin id.
func (n Node) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.PluginID
}

// Edge is a directed, branch-tagged connection between two nodes.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Branch Branch `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// EffectiveBranch returns the edge's branch, defaulting to ok when unset.
func (e Edge) EffectiveBranch() Branch {
	if e.Branch == "" {
		return BranchOK
	}
	return e.Branch
}

// Graph is a document describing one executable node graph. It is supplied
// per run and never mutated by the engine.
type Graph struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// NodeByID retrieves a node by its ID.
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StartNode returns the first node whose plugin id is the reserved start
// marker, or false if the graph has none.
func (g *Graph) StartNode() (Node, bool) {
	for _, n := range g.Nodes {
		if n.PluginID == StartPluginID {
			return n, true
		}
	}
	return Node{}, false
}

// Validate checks the document-level invariants the engine relies on.
// Duplicate same-branch edges are deliberately not rejected here; the
// engine resolves them first-match-wins (see EdgeMap.Next).
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return ErrEmptyGraph
	}

	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return errors.New("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range g.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("%w: source node %q not found", ErrInvalidEdge, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("%w: target node %q not found", ErrInvalidEdge, e.Target)
		}
		switch e.EffectiveBranch() {
		case BranchOK, BranchFail:
		default:
			return fmt.Errorf("%w: unknown branch %q", ErrInvalidEdge, e.Branch)
		}
	}

	return nil
}

// EdgeMap is an adjacency view over a graph's edges, preserving the
// insertion order of the edge list.
type EdgeMap struct {
	bySource map[string][]Edge
}

// BuildEdgeMap indexes the graph's edges by source node.
func BuildEdgeMap(g *Graph) *EdgeMap {
	m := &EdgeMap{bySource: make(map[string][]Edge, len(g.Nodes))}
	for _, e := range g.Edges {
		m.bySource[e.Source] = append(m.bySource[e.Source], e)
	}
	return m
}

// Next resolves the target of the given branch out of a source node.
// When multiple edges carry the same branch the first one in the supplied
// edge list wins; upstream validation flags that case but the engine must
// stay deterministic regardless.
func (m *EdgeMap) Next(source string, branch Branch) (string, bool) {
	for _, e := range m.bySource[source] {
		if e.EffectiveBranch() == branch {
			return e.Target, true
		}
	}
	return "", false
}

// Outgoing returns all edges leaving the given node, in insertion order.
func (m *EdgeMap) Outgoing(source string) []Edge {
	return m.bySource[source]
}
