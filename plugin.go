package blockflow

import "context"

// StartPluginID is the reserved plugin id marking a graph's entry node for
// "from the beginning" runs. Its handler does nothing but succeed.
const StartPluginID = "__start__"

// ParamSpec describes one configurable parameter a plugin accepts. It is
// surfaced to editors; the engine passes params through untouched.
type ParamSpec struct {
	Key     string `json:"key" yaml:"key"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
	Help    string `json:"help,omitempty" yaml:"help,omitempty"`
	Group   string `json:"group,omitempty" yaml:"group,omitempty"`

	// Advanced hides the parameter behind an expert toggle in editors.
	Advanced bool `json:"advanced,omitempty" yaml:"advanced,omitempty"`
}

// Descriptor is a plugin's self-description. The engine consults only the
// capability flags; everything else is catalog metadata.
type Descriptor struct {
	PluginID    string      `json:"plugin_id" yaml:"plugin_id"`
	Name        string      `json:"name" yaml:"name"`
	Version     string      `json:"version" yaml:"version"`
	Description string      `json:"description" yaml:"description"`
	Category    string      `json:"category" yaml:"category"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Params      []ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`

	// RequiresInput makes the engine refuse to invoke the handler unless
	// the node configures an input reference.
	RequiresInput bool `json:"requires_input,omitempty" yaml:"requires_input,omitempty"`

	// ProducesOutput makes the engine refuse to invoke the handler unless
	// the node configures an output reference.
	ProducesOutput bool `json:"produces_output,omitempty" yaml:"produces_output,omitempty"`
}

// Handler is the pluggable unit of work bound to a node. Handlers are
// expected to be deterministic given (params, input) and must route all
// external effects through the returned result; they never touch the
// variable store or event sink directly.
//
// A non-nil error return (or a panic) is caught at the invocation boundary
// and downgraded to an ERROR result so a misbehaving handler cannot crash
// the engine.
type Handler interface {
	Run(ctx context.Context, rc *RunContext, params map[string]any, input any) (*NodeResult, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, rc *RunContext, params map[string]any, input any) (*NodeResult, error)

// Run invokes the wrapped function.
func (f HandlerFunc) Run(ctx context.Context, rc *RunContext, params map[string]any, input any) (*NodeResult, error) {
	return f(ctx, rc, params, input)
}

// Plugin pairs a descriptor with its handler.
type Plugin struct {
	Descriptor Descriptor
	Handler    Handler
}

// PluginResolver looks plugins up by id. Absence is a first-class lookup
// failure, not a nil handler.
type PluginResolver interface {
	Resolve(pluginID string) (Plugin, bool)
}

// Ensure interface compliance at compile time.
var _ Handler = (HandlerFunc)(nil)
