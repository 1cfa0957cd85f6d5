// Package registry provides the plugin registry for blockflow. It maps
// plugin ids to handlers and catalog metadata used by the engine, the
// server API, and graph diagnostics.
package registry

import (
	"sync"

	"github.com/blockflow/blockflow"
)

// Registry holds all known plugins. A registry is an explicit instance;
// callers construct one and pass it where needed.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]blockflow.Plugin
	order   []string // preserves registration order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		plugins: make(map[string]blockflow.Plugin),
	}
}

// NewWithBuiltins creates a registry pre-populated with the built-in
// plugins.
func NewWithBuiltins() *Registry {
	r := New()
	RegisterBuiltins(r)
	return r
}

// Register adds a plugin. If a plugin with the same id already exists it
// is overwritten, keeping its original position in registration order.
func (r *Registry) Register(p blockflow.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Descriptor.PluginID
	if _, exists := r.plugins[id]; !exists {
		r.order = append(r.order, id)
	}
	r.plugins[id] = p
}

// Resolve returns a plugin by id. Absence is reported through the boolean,
// never through a plugin with a nil handler.
func (r *Registry) Resolve(pluginID string) (blockflow.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[pluginID]
	return p, ok
}

// Has returns true if the plugin id is registered.
func (r *Registry) Has(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[pluginID]
	return ok
}

// Descriptors returns all registered plugin descriptors in registration
// order. Used by the GET /api/plugins endpoint.
func (r *Registry) Descriptors() []blockflow.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]blockflow.Descriptor, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.plugins[id].Descriptor)
	}
	return result
}

// ByCategory groups registered descriptors by category, "Other" for
// plugins that declare none.
func (r *Registry) ByCategory() map[string][]blockflow.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string][]blockflow.Descriptor)
	for _, id := range r.order {
		d := r.plugins[id].Descriptor
		cat := d.Category
		if cat == "" {
			cat = "Other"
		}
		result[cat] = append(result[cat], d)
	}
	return result
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Compile-time interface check.
var _ blockflow.PluginResolver = (*Registry)(nil)
