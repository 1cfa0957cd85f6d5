// Package loader reads graph documents from JSON and YAML files and
// produces diagnostics for problems the structural validator cannot see,
// such as references to unregistered plugins.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blockflow/blockflow"
	"github.com/blockflow/blockflow/registry"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one load-time finding about a graph document.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`

	// NodeID pins the finding to a node when applicable.
	NodeID string `json:"node_id,omitempty"`
}

// Diagnostic codes.
const (
	CodeUnknownPlugin  = "unknown_plugin"
	CodeDuplicateEdge  = "duplicate_edge"
	CodeInvalidVarRef  = "invalid_var_ref"
	CodeStructural     = "structural"
)

// HasErrors reports whether any diagnostic is error-severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// DiagnosticError wraps error-severity diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []Diagnostic
}

func (e *DiagnosticError) Error() string {
	var msgs []string
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			msgs = append(msgs, d.Message)
		}
	}
	return fmt.Sprintf("graph validation failed: %s", strings.Join(msgs, "; "))
}

// LoadGraph reads, parses, and checks a graph document. Error-severity
// diagnostics make the load fail with a DiagnosticError; warnings are
// returned alongside the graph for the caller to surface.
func LoadGraph(path string, reg *registry.Registry) (*blockflow.Graph, []Diagnostic, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseGraph(data, path, reg)
}

// ParseGraph parses a graph document from raw bytes. The path selects the
// parse format by extension (.yaml/.yml is YAML, everything else JSON).
func ParseGraph(data []byte, path string, reg *registry.Registry) (*blockflow.Graph, []Diagnostic, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, nil, err
	}

	var g blockflow.Graph
	if err := json.Unmarshal(jsonData, &g); err != nil {
		return nil, nil, fmt.Errorf("parsing graph document: %w", err)
	}

	diags := Check(&g, reg)
	if HasErrors(diags) {
		return nil, diags, &DiagnosticError{Diagnostics: diags}
	}
	return &g, diags, nil
}

// Check runs structural validation plus registry-aware checks and returns
// all findings. A nil registry skips the plugin checks.
func Check(g *blockflow.Graph, reg *registry.Registry) []Diagnostic {
	var diags []Diagnostic

	if err := g.Validate(); err != nil {
		diags = append(diags, Diagnostic{
			Severity: SeverityError,
			Code:     CodeStructural,
			Message:  err.Error(),
		})
		return diags
	}

	for _, n := range g.Nodes {
		if reg != nil && !reg.Has(n.PluginID) {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeUnknownPlugin,
				Message:  fmt.Sprintf("node %q references unregistered plugin %q", n.ID, n.PluginID),
				NodeID:   n.ID,
			})
		}
		for _, ref := range []string{n.InputVarRef, n.OutputVarRef} {
			if ref == "" {
				continue
			}
			if _, err := blockflow.ParseVarRef(ref); err != nil {
				diags = append(diags, Diagnostic{
					Severity: SeverityError,
					Code:     CodeInvalidVarRef,
					Message:  fmt.Sprintf("node %q: %v", n.ID, err),
					NodeID:   n.ID,
				})
			}
		}
	}

	// Duplicate same-branch edges are legal but almost always a mistake;
	// the engine resolves them first-match-wins.
	type key struct {
		source string
		branch blockflow.Branch
	}
	seen := make(map[key]bool)
	for _, e := range g.Edges {
		k := key{e.Source, e.EffectiveBranch()}
		if seen[k] {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeDuplicateEdge,
				Message:  fmt.Sprintf("node %q has multiple %q edges; only the first is followed", e.Source, k.branch),
				NodeID:   e.Source,
			})
		}
		seen[k] = true
	}

	return diags
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if !isYAML(path) {
		return data, nil
	}
	// YAML -> map[string]any -> JSON bytes -> typed struct.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}
