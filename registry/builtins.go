package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockflow/blockflow"
)

// RegisterBuiltins registers the built-in plugins: the start marker and
// the echo example plugin.
func RegisterBuiltins(r *Registry) {
	r.Register(startPlugin())
	r.Register(echoPlugin())
}

// startPlugin is the reserved entry marker. It does nothing but succeed
// so traversal can proceed down its ok edge.
func startPlugin() blockflow.Plugin {
	return blockflow.Plugin{
		Descriptor: blockflow.Descriptor{
			PluginID:    blockflow.StartPluginID,
			Name:        "Start",
			Version:     "1.0.0",
			Description: "Marks the entry node for runs started from the beginning.",
			Category:    "Control",
		},
		Handler: blockflow.HandlerFunc(func(ctx context.Context, rc *blockflow.RunContext, params map[string]any, input any) (*blockflow.NodeResult, error) {
			return blockflow.OKResult("SUCCESS", "Run started", nil), nil
		}),
	}
}

// echoPlugin repeats a configured message and can simulate failure for
// testing fail-branch wiring.
func echoPlugin() blockflow.Plugin {
	return blockflow.Plugin{
		Descriptor: blockflow.Descriptor{
			PluginID:       "echo",
			Name:           "Echo",
			Version:        "1.0.0",
			Description:    "Repeats a message a configurable number of times.",
			Category:       "Utility",
			Tags:           []string{"example", "demo", "test"},
			ProducesOutput: true,
			Params: []blockflow.ParamSpec{
				{
					Key:     "message",
					Label:   "Message",
					Type:    "string",
					Default: "Hello World",
					Help:    "Message that will be logged and returned as output.",
					Group:   "Main",
				},
				{
					Key:     "count",
					Label:   "Count",
					Type:    "int",
					Default: 1,
					Help:    "Number of times to repeat the message.",
					Group:   "Main",
				},
				{
					Key:      "fail_simulation",
					Label:    "Simulate Failure",
					Type:     "bool",
					Default:  false,
					Help:     "If true, the plugin will return FAIL status.",
					Group:    "Debug",
					Advanced: true,
				},
			},
		},
		Handler: blockflow.HandlerFunc(runEcho),
	}
}

func runEcho(ctx context.Context, rc *blockflow.RunContext, params map[string]any, input any) (*blockflow.NodeResult, error) {
	message := stringParam(params, "message", "Hello World")
	count := intParam(params, "count", 1)
	shouldFail := boolParam(params, "fail_simulation", false)

	rc.Info(fmt.Sprintf("Echo started with message=%q, count=%d", message, count))

	if shouldFail {
		rc.Warn("Simulating failure as requested")
		res := blockflow.FailResult("SIMULATED_FAILURE", "Failure was simulated by user setting")
		res.Details = map[string]any{"message": message, "count": count}
		return res, nil
	}

	if count < 1 {
		count = 1
	}
	repeated := strings.TrimSpace(strings.Repeat(message+" ", count))

	rc.Info("Echo finished successfully")

	res := blockflow.OKResult("SUCCESS", fmt.Sprintf("Plugin executed: %q", repeated),
		map[string]any{"result": repeated, "original_message": message})
	res.Details = map[string]any{"message": message, "count": count}
	return res, nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
