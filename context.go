package blockflow

import (
	"path/filepath"

	"github.com/blockflow/blockflow/runlog"
)

// RunContext is the narrow capability object handed to a plugin handler
// for the duration of one node execution. It exposes leveled logging
// auto-tagged with the run/node identity and read-only access to the
// project directory for scratch file space. Handlers must not retain it
// across calls.
type RunContext struct {
	RunID     string
	NodeID    string
	NodeTitle string

	projectDir   string
	artifactsDir string
	log          *runlog.Logger
}

// NewRunContext builds the per-node handle the engine passes to handlers.
func NewRunContext(runID string, node Node, log *runlog.Logger, projectDir string) *RunContext {
	return &RunContext{
		RunID:      runID,
		NodeID:     node.ID,
		NodeTitle:  node.DisplayTitle(),
		projectDir: projectDir,
		log:        log,
	}
}

// ProjectDir returns the project directory, or "" for in-memory runs.
func (c *RunContext) ProjectDir() string {
	return c.projectDir
}

// ArtifactsDir returns the scratch directory for handler file output,
// derived from the project directory unless set explicitly.
func (c *RunContext) ArtifactsDir() string {
	if c.artifactsDir != "" {
		return c.artifactsDir
	}
	if c.projectDir == "" {
		return ""
	}
	return filepath.Join(c.projectDir, "artifacts")
}

// WithArtifactsDir overrides the derived artifacts directory.
func (c *RunContext) WithArtifactsDir(dir string) *RunContext {
	c.artifactsDir = dir
	return c
}

// Log writes one line at the given level, tagged with this node's identity.
func (c *RunContext) Log(level, message string, details map[string]any) {
	if c.log == nil {
		return
	}
	c.log.Write(level, message, runlog.Tags{
		RunID:     c.RunID,
		NodeID:    c.NodeID,
		NodeTitle: c.NodeTitle,
		Details:   details,
	})
}

// Debug logs at DEBUG level.
func (c *RunContext) Debug(message string) { c.Log(runlog.LevelDebug, message, nil) }

// Info logs at INFO level.
func (c *RunContext) Info(message string) { c.Log(runlog.LevelInfo, message, nil) }

// Warn logs at WARN level.
func (c *RunContext) Warn(message string) { c.Log(runlog.LevelWarn, message, nil) }

// Error logs at ERROR level.
func (c *RunContext) Error(message string) { c.Log(runlog.LevelError, message, nil) }
