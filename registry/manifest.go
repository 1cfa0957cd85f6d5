package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/blockflow/blockflow"
)

// ErrInvalidManifest is wrapped by all manifest validation failures.
var ErrInvalidManifest = errors.New("invalid plugin manifest")

// manifestFile is the expected file name inside each plugin directory.
const manifestFile = "plugin.yaml"

// DiscoverManifests scans a plugins directory for <id>/plugin.yaml files
// and returns the parsed descriptors. Directories without a manifest are
// skipped; a malformed manifest is reported and skipped so one broken
// plugin cannot hide the rest.
//
// A missing plugins directory yields no manifests and no error.
func DiscoverManifests(dir string) ([]blockflow.Descriptor, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{err}
	}

	var descs []blockflow.Descriptor
	var problems []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), manifestFile)
		data, err := os.ReadFile(path) // #nosec G304 -- path from caller
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			problems = append(problems, fmt.Errorf("reading %s: %w", path, err))
			continue
		}

		desc, err := parseManifest(data, entry.Name())
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", path, err))
			continue
		}
		descs = append(descs, desc)
	}
	return descs, problems
}

// parseManifest decodes and validates one manifest. The descriptor's id
// must match the directory name the manifest lives in.
func parseManifest(data []byte, dirName string) (blockflow.Descriptor, error) {
	var desc blockflow.Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return blockflow.Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	for field, value := range map[string]string{
		"plugin_id":   desc.PluginID,
		"name":        desc.Name,
		"version":     desc.Version,
		"description": desc.Description,
		"category":    desc.Category,
	} {
		if value == "" {
			return blockflow.Descriptor{}, fmt.Errorf("%w: missing required field %q", ErrInvalidManifest, field)
		}
	}

	if desc.PluginID != dirName {
		return blockflow.Descriptor{}, fmt.Errorf("%w: plugin_id %q does not match directory %q",
			ErrInvalidManifest, desc.PluginID, dirName)
	}

	return desc, nil
}

// ApplyManifests overlays discovered descriptor metadata onto registered
// plugins with matching ids. Manifests for unregistered ids are returned
// so the caller can warn; a manifest can describe a plugin but never
// supply its handler.
func (r *Registry) ApplyManifests(descs []blockflow.Descriptor) (unmatched []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, desc := range descs {
		p, ok := r.plugins[desc.PluginID]
		if !ok {
			unmatched = append(unmatched, desc.PluginID)
			continue
		}
		p.Descriptor = desc
		r.plugins[desc.PluginID] = p
	}
	return unmatched
}
