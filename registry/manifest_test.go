package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blockflow/blockflow"
)

func writeManifest(t *testing.T, root, dir, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(full, "plugin.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const echoManifest = `plugin_id: echo
name: Echo
version: 2.0.0
description: Overridden description.
category: Utility
produces_output: true
params:
  - key: message
    label: Message
    type: string
    default: Hello
`

func TestDiscoverManifests(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "echo", echoManifest)

	// A directory without a manifest is skipped silently.
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	descs, problems := DiscoverManifests(root)
	if len(problems) != 0 {
		t.Fatalf("problems = %v", problems)
	}
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(descs))
	}
	d := descs[0]
	if d.PluginID != "echo" || d.Version != "2.0.0" || !d.ProducesOutput {
		t.Errorf("descriptor = %+v", d)
	}
	if len(d.Params) != 1 || d.Params[0].Key != "message" {
		t.Errorf("params = %+v", d.Params)
	}
}

func TestDiscoverManifests_MissingDir(t *testing.T) {
	descs, problems := DiscoverManifests(filepath.Join(t.TempDir(), "absent"))
	if descs != nil || problems != nil {
		t.Errorf("got %v, %v; want nil, nil", descs, problems)
	}
}

func TestDiscoverManifests_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		dir      string
		manifest string
	}{
		{
			name:     "missing required field",
			dir:      "partial",
			manifest: "plugin_id: partial\nname: Partial\n",
		},
		{
			name:     "id mismatch",
			dir:      "renamed",
			manifest: "plugin_id: other\nname: X\nversion: 1.0.0\ndescription: d\ncategory: c\n",
		},
		{
			name:     "malformed yaml",
			dir:      "broken",
			manifest: "plugin_id: [unclosed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, tt.dir, tt.manifest)
			writeManifest(t, root, "echo", echoManifest)

			descs, problems := DiscoverManifests(root)
			if len(problems) != 1 {
				t.Fatalf("problems = %v, want exactly one", problems)
			}
			// The broken manifest must not hide the valid one.
			if len(descs) != 1 || descs[0].PluginID != "echo" {
				t.Errorf("descs = %+v, want only echo", descs)
			}
		})
	}
}

func TestRegistry_ApplyManifests(t *testing.T) {
	r := NewWithBuiltins()

	unmatched := r.ApplyManifests([]blockflow.Descriptor{
		{PluginID: "echo", Name: "Echo", Version: "9.9.9", Description: "d", Category: "c"},
		{PluginID: "ghost", Name: "Ghost", Version: "1.0.0", Description: "d", Category: "c"},
	})

	if len(unmatched) != 1 || unmatched[0] != "ghost" {
		t.Errorf("unmatched = %v, want [ghost]", unmatched)
	}

	echo, _ := r.Resolve("echo")
	if echo.Descriptor.Version != "9.9.9" {
		t.Errorf("echo version = %q, want manifest overlay applied", echo.Descriptor.Version)
	}
	if echo.Handler == nil {
		t.Error("overlay dropped the handler")
	}
}
