package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blockflow/blockflow"
	"github.com/blockflow/blockflow/registry"
)

const graphJSON = `{
  "name": "demo",
  "nodes": [
    {"id": "start", "plugin_id": "__start__"},
    {"id": "say", "plugin_id": "echo", "title": "Say hi", "params": {"message": "hi", "count": 2}, "output_var_ref": "proj:1"}
  ],
  "edges": [
    {"source": "start", "target": "say", "branch": "ok"}
  ]
}`

const graphYAML = `name: demo
nodes:
  - id: start
    plugin_id: __start__
  - id: say
    plugin_id: echo
    title: Say hi
    params:
      message: hi
      count: 2
    output_var_ref: proj:1
edges:
  - source: start
    target: say
    branch: ok
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadGraph_JSONAndYAML(t *testing.T) {
	reg := registry.NewWithBuiltins()

	for _, tt := range []struct {
		name, file, content string
	}{
		{"json", "graph.json", graphJSON},
		{"yaml", "graph.yaml", graphYAML},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g, diags, err := LoadGraph(writeFile(t, tt.file, tt.content), reg)
			if err != nil {
				t.Fatalf("LoadGraph() error = %v", err)
			}
			if len(diags) != 0 {
				t.Errorf("diags = %v, want none", diags)
			}
			if g.Name != "demo" || len(g.Nodes) != 2 || len(g.Edges) != 1 {
				t.Errorf("graph = %+v", g)
			}
			say, ok := g.NodeByID("say")
			if !ok || say.OutputVarRef != "proj:1" {
				t.Errorf("say node = %+v", say)
			}
			// YAML params arrive JSON-typed.
			if say.Params["count"] != float64(2) {
				t.Errorf("count param = %#v, want float64(2)", say.Params["count"])
			}
		})
	}
}

func TestLoadGraph_MissingFile(t *testing.T) {
	_, _, err := LoadGraph(filepath.Join(t.TempDir(), "absent.json"), nil)
	if err == nil {
		t.Fatal("LoadGraph() succeeded on a missing file")
	}
}

func TestParseGraph_StructuralErrors(t *testing.T) {
	_, diags, err := ParseGraph([]byte(`{"nodes": [], "edges": []}`), "g.json", nil)

	var derr *DiagnosticError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want DiagnosticError", err)
	}
	if !HasErrors(diags) || diags[0].Code != CodeStructural {
		t.Errorf("diags = %v", diags)
	}
}

func TestParseGraph_InvalidVarRefIsError(t *testing.T) {
	doc := `{"nodes": [{"id": "a", "plugin_id": "echo", "input_var_ref": "bogus"}], "edges": []}`
	_, diags, err := ParseGraph([]byte(doc), "g.json", nil)
	if err == nil {
		t.Fatal("ParseGraph() accepted an unparseable variable reference")
	}
	if len(diags) != 1 || diags[0].Code != CodeInvalidVarRef || diags[0].NodeID != "a" {
		t.Errorf("diags = %v", diags)
	}
}

func TestCheck_Warnings(t *testing.T) {
	reg := registry.NewWithBuiltins()

	g := &blockflow.Graph{
		Nodes: []blockflow.Node{
			{ID: "a", PluginID: "echo"},
			{ID: "b", PluginID: "mystery"},
			{ID: "c", PluginID: "echo"},
		},
		Edges: []blockflow.Edge{
			{Source: "a", Target: "b", Branch: blockflow.BranchOK},
			{Source: "a", Target: "c"}, // duplicate ok edge via default
		},
	}

	diags := Check(g, reg)
	if HasErrors(diags) {
		t.Fatalf("unexpected errors: %v", diags)
	}

	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	if len(codes) != 2 {
		t.Fatalf("diags = %v, want unknown plugin and duplicate edge warnings", diags)
	}
	if codes[0] != CodeUnknownPlugin || codes[1] != CodeDuplicateEdge {
		t.Errorf("codes = %v", codes)
	}
}

func TestCheck_NilRegistrySkipsPluginChecks(t *testing.T) {
	g := &blockflow.Graph{Nodes: []blockflow.Node{{ID: "a", PluginID: "anything"}}}
	if diags := Check(g, nil); len(diags) != 0 {
		t.Errorf("diags = %v, want none without a registry", diags)
	}
}
