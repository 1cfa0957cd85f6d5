// Package engine implements the execution engine for blockflow graphs:
// the run state machine, sequential traversal with ok/fail branch
// resolution, the breakpoint pause protocol, and two-tier stop semantics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockflow/blockflow"
	"github.com/blockflow/blockflow/runlog"
)

// State is the engine's run state.
type State string

const (
	StateIdle     State = "Idle"
	StateRunning  State = "Running"
	StatePaused   State = "Paused"
	StateStopped  State = "Stopped"
	StateFinished State = "Finished"
	StateError    State = "Error"
)

// Engine errors
var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNoStartNode    = errors.New("graph has no start node")
	ErrNoEntryPoint   = errors.New("no entry point specified")
)

// Config wires the engine's collaborators. Plugins is required; everything
// else degrades to a no-op when absent.
type Config struct {
	// Plugins resolves node plugin ids to handlers.
	Plugins blockflow.PluginResolver

	// Vars is the external variable store for node input/output.
	Vars blockflow.VariableStore

	// Log is the flat-file run log. Nil disables run logging.
	Log *runlog.Logger

	// Events receives state and node-status notifications.
	Events EventHandler

	// Bus, when set, additionally distributes events to subscribers.
	Bus EventPublisher

	// Recorder persists run records. Nil disables bookkeeping.
	Recorder RunRecorder

	// ProjectDir is exposed to handlers through the run context.
	ProjectDir string

	// Now provides the current time (for testing). Nil means time.Now.
	Now func() time.Time
}

// Engine executes one graph at a time. Control operations (Start, SoftStop,
// HardStop, Resume, Status) are safe to call from any goroutine; traversal
// itself is strictly sequential, one node at a time.
type Engine struct {
	plugins    blockflow.PluginResolver
	vars       blockflow.VariableStore
	log        *runlog.Logger
	events     EventHandler
	bus        EventPublisher
	recorder   RunRecorder
	projectDir string
	now        func() time.Time

	mu   sync.Mutex
	cond *sync.Cond

	state           State
	runID           string
	activeNodeID    string
	activeNodeTitle string
	current         *Run

	softStop atomic.Bool
	hardStop atomic.Bool

	seq *seqGen
}

// New creates an engine in the Idle state.
func New(cfg Config) *Engine {
	e := &Engine{
		plugins:    cfg.Plugins,
		vars:       cfg.Vars,
		log:        cfg.Log,
		events:     cfg.Events,
		bus:        cfg.Bus,
		recorder:   cfg.Recorder,
		projectDir: cfg.ProjectDir,
		now:        cfg.Now,
		state:      StateIdle,
		seq:        &seqGen{},
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// StartOptions selects the entry point for a run.
type StartOptions struct {
	// NodeID starts from an explicit node.
	NodeID string

	// FromBeginning starts from the node carrying the reserved start
	// marker plugin id.
	FromBeginning bool

	// RunID overrides the generated run identifier.
	RunID string
}

// RunOutcome is the settled result of a run.
type RunOutcome struct {
	RunID string

	// Final is the last node's result, or a stop sentinel.
	Final *blockflow.NodeResult

	// State is the terminal state the run settled into.
	State State

	// Err is set only for engine-level failures (State == StateError).
	Err error
}

// Run is the handle returned by Start. The caller may block on Wait for
// the terminal settle or poll the engine's Status.
type Run struct {
	id      string
	done    chan struct{}
	outcome RunOutcome
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Done is closed when the run settles.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run settles and returns its outcome.
func (r *Run) Wait() RunOutcome {
	<-r.done
	return r.outcome
}

// StatusInfo is a snapshot of the engine's observable state.
type StatusInfo struct {
	State           State  `json:"state"`
	RunID           string `json:"run_id,omitempty"`
	ActiveNodeID    string `json:"active_node_id,omitempty"`
	ActiveNodeTitle string `json:"active_node_title,omitempty"`
}

// Status returns the current state, run id, and active node.
func (e *Engine) Status() StatusInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatusInfo{
		State:           e.state,
		RunID:           e.runID,
		ActiveNodeID:    e.activeNodeID,
		ActiveNodeTitle: e.activeNodeTitle,
	}
}

// Start validates the entry point, transitions to Running, and launches
// traversal in a background goroutine. It fails fast with
// ErrAlreadyRunning while a run is in flight; runs are never queued.
func (e *Engine) Start(ctx context.Context, g *blockflow.Graph, opts StartOptions) (*Run, error) {
	entryID, err := resolveEntry(g, opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	runID := opts.RunID
	if runID == "" {
		runID = "run_" + e.now().Format("20060102_150405")
	}

	e.state = StateRunning
	e.runID = runID
	e.activeNodeID = ""
	e.activeNodeTitle = ""
	e.softStop.Store(false)
	e.hardStop.Store(false)
	e.seq = &seqGen{}

	run := &Run{id: runID, done: make(chan struct{})}
	e.current = run
	e.mu.Unlock()

	e.logInfo(fmt.Sprintf("Execution started (from_beginning=%t)", opts.FromBeginning), runID, blockflow.Node{})
	e.emitState()

	if e.recorder != nil {
		if err := e.recorder.Begin(ctx, runID, g.Name); err != nil && e.log != nil {
			e.log.Error("Failed to record run start: "+err.Error(), runlog.Tags{RunID: runID})
		}
	}

	go e.run(ctx, g, entryID, run)

	return run, nil
}

// SoftStop requests a graceful stop: the current node's handler runs to
// completion, the next node is never entered. The run settles Finished with
// a SOFT_STOP result; only a hard stop forces Stopped. No-op when idle.
func (e *Engine) SoftStop() {
	e.softStop.Store(true)
}

// HardStop requests an immediate stop, observed at node boundaries and
// inside the breakpoint wait. A paused run is released straight into
// Stopped without invoking the handler. No-op when idle.
func (e *Engine) HardStop() {
	e.hardStop.Store(true)
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Resume releases a run paused at a breakpoint. No-op unless Paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StateRunning
	e.cond.Broadcast()
	e.mu.Unlock()
	e.emitState()
}

// run drives traversal to its terminal settle and performs the guaranteed
// cleanup on every exit path.
func (e *Engine) run(ctx context.Context, g *blockflow.Graph, entryID string, run *Run) {
	runID := run.id
	edges := blockflow.BuildEdgeMap(g)

	final, runErr := e.traverseSafe(ctx, g, edges, entryID, runID)

	var settled State
	switch {
	case runErr != nil:
		settled = StateError
	case e.hardStop.Load():
		settled = StateStopped
	default:
		settled = StateFinished
	}

	e.mu.Lock()
	e.state = settled
	e.activeNodeID = ""
	e.activeNodeTitle = ""
	e.mu.Unlock()

	switch settled {
	case StateStopped:
		e.logInfo("Execution stopped", runID, blockflow.Node{})
	case StateError:
		if e.log != nil {
			e.log.Error("Execution error: "+runErr.Error(), runlog.Tags{RunID: runID})
		}
	default:
		e.logInfo("Execution finished", runID, blockflow.Node{})
	}
	e.emitState()

	if e.recorder != nil {
		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
		}
		if err := e.recorder.Finish(ctx, runID, settled, errMsg); err != nil && e.log != nil {
			e.log.Error("Failed to record run finish: "+err.Error(), runlog.Tags{RunID: runID})
		}
	}

	// Settle back to the Idle resting state; terminality lives in the run
	// record and the outcome, not in engine memory.
	e.mu.Lock()
	e.state = StateIdle
	e.runID = ""
	e.current = nil
	e.mu.Unlock()

	run.outcome = RunOutcome{RunID: runID, Final: final, State: settled, Err: runErr}
	close(run.done)
}

// traverseSafe guards traversal against engine-level panics, which settle
// the run into the Error state instead of crashing the process.
func (e *Engine) traverseSafe(ctx context.Context, g *blockflow.Graph, edges *blockflow.EdgeMap, entryID, runID string) (final *blockflow.NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	final = e.traverse(ctx, g, edges, entryID, runID)
	return final, nil
}

// traverse walks the graph one node at a time until a terminal condition:
// no outgoing edge for the resolved branch, a stop request, or an
// engine-level error result.
func (e *Engine) traverse(ctx context.Context, g *blockflow.Graph, edges *blockflow.EdgeMap, entryID, runID string) *blockflow.NodeResult {
	current := entryID

	for {
		// Stop flags are checked before any side effect for this node.
		if e.hardStop.Load() {
			return blockflow.StoppedResult(blockflow.CodeHardStop)
		}
		if e.softStop.Load() {
			return blockflow.StoppedResult(blockflow.CodeSoftStop)
		}

		node, ok := g.NodeByID(current)
		if !ok {
			res := blockflow.ErrorResult(blockflow.CodeNodeNotFound, fmt.Sprintf("node %q not found", current))
			res.Details = map[string]any{"node_id": current}
			return res
		}

		e.setActive(node)
		e.emitState()
		e.logInfo("Node started: "+node.DisplayTitle(), runID, node)
		e.emitNodeStatus(node.ID, "running")

		if node.Breakpoint {
			if stopped := e.pauseAtBreakpoint(runID, node); stopped {
				return blockflow.StoppedResult(blockflow.CodeHardStop)
			}
		}

		res := e.executeNode(ctx, node, runID)

		// Branch resolution. ERROR follows the fail edge only when the
		// node opts in; otherwise traversal ends here.
		var next string
		var found bool
		switch res.Status {
		case blockflow.StatusOK:
			next, found = edges.Next(current, blockflow.BranchOK)
		case blockflow.StatusFail:
			next, found = edges.Next(current, blockflow.BranchFail)
		case blockflow.StatusError:
			if node.ErrorToFail {
				next, found = edges.Next(current, blockflow.BranchFail)
			}
		}

		e.finishNode(runID, node, res)

		if !found {
			return res
		}
		current = next
	}
}

// executeNode runs the per-node contract from plugin resolution through
// output persistence. Every exit produces a NodeResult, never an error.
func (e *Engine) executeNode(ctx context.Context, node blockflow.Node, runID string) *blockflow.NodeResult {
	plugin, ok := e.resolvePlugin(node.PluginID)
	if !ok {
		return blockflow.ErrorResult(blockflow.CodePluginNotFound, fmt.Sprintf("plugin %q not found", node.PluginID))
	}

	// Contract checks happen before invocation; the handler never runs
	// when they fail.
	if plugin.Descriptor.RequiresInput && node.InputVarRef == "" {
		return blockflow.ErrorResult(blockflow.CodeInputNotSelected, "input variable not selected")
	}
	if plugin.Descriptor.ProducesOutput && node.OutputVarRef == "" {
		return blockflow.ErrorResult(blockflow.CodeOutputNotSelected, "output variable not selected")
	}

	var input any
	if node.InputVarRef != "" {
		input = e.readVariable(ctx, runID, node)
	}

	rc := blockflow.NewRunContext(runID, node, e.log, e.projectDir)
	res := invokeHandler(ctx, plugin.Handler, rc, node.Params, input)

	if res.Status == blockflow.StatusOK && node.OutputVarRef != "" {
		e.writeVariable(ctx, runID, node, res.Output)
	}

	return res
}

// invokeHandler calls the handler synchronously. Panics and error returns
// are downgraded to PLUGIN_EXCEPTION results; a nil, malformed, or
// stop-status result becomes INVALID_RESULT. The call itself is not
// interruptible; stop and pause only take effect at node boundaries.
func invokeHandler(ctx context.Context, h blockflow.Handler, rc *blockflow.RunContext, params map[string]any, input any) (res *blockflow.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = &blockflow.NodeResult{
				Status:  blockflow.StatusError,
				Code:    blockflow.CodePluginException,
				Message: fmt.Sprint(r),
				Details: map[string]any{"exception": fmt.Sprintf("%T", r)},
			}
		}
	}()

	out, err := h.Run(ctx, rc, params, input)
	if err != nil {
		return &blockflow.NodeResult{
			Status:  blockflow.StatusError,
			Code:    blockflow.CodePluginException,
			Message: err.Error(),
			Details: map[string]any{"exception": fmt.Sprintf("%T", err)},
		}
	}
	if !out.Valid() || out.Status == blockflow.StatusStopped {
		return blockflow.ErrorResult(blockflow.CodeInvalidResult, "plugin returned an invalid result")
	}
	return out
}

// pauseAtBreakpoint suspends traversal until Resume or a hard stop. The
// wait is a condition-variable wait, re-checking both conditions on every
// wake; there is no timeout on a paused run.
func (e *Engine) pauseAtBreakpoint(runID string, node blockflow.Node) (stopped bool) {
	e.mu.Lock()
	e.state = StatePaused
	e.mu.Unlock()

	e.logInfo("Paused at breakpoint", runID, node)
	e.emitState()

	e.mu.Lock()
	for e.state == StatePaused && !e.hardStop.Load() {
		e.cond.Wait()
	}
	e.mu.Unlock()

	return e.hardStop.Load()
}

// finishNode emits the closing log line and node_status event and clears
// the active-node pointer. The log level tracks the result status: INFO
// for OK, WARN for FAIL, ERROR otherwise.
func (e *Engine) finishNode(runID string, node blockflow.Node, res *blockflow.NodeResult) {
	msg := "Node finished: status=" + string(res.Status)
	if res.Code != "" {
		msg += " code=" + res.Code
	}

	if e.log != nil {
		tags := runlog.Tags{RunID: runID, NodeID: node.ID, NodeTitle: node.DisplayTitle()}
		switch res.Status {
		case blockflow.StatusOK:
			e.log.Info(msg, tags)
		case blockflow.StatusFail:
			e.log.Warn(msg, tags)
		default:
			e.log.Error(msg, tags)
		}
	}

	e.emitNodeStatus(node.ID, res.StatusToken())

	e.mu.Lock()
	e.activeNodeID = ""
	e.activeNodeTitle = ""
	e.mu.Unlock()
}

// readVariable resolves the node's input reference. Parse and store
// failures degrade to nil so the graph stays resilient to stale refs.
func (e *Engine) readVariable(ctx context.Context, runID string, node blockflow.Node) any {
	ref, err := blockflow.ParseVarRef(node.InputVarRef)
	if err != nil {
		e.debugVariable(runID, node, "Unparseable input reference "+node.InputVarRef)
		return nil
	}
	if e.vars == nil {
		return nil
	}
	value, err := e.vars.Get(ctx, ref)
	if err != nil {
		e.debugVariable(runID, node, "Input variable "+node.InputVarRef+" unreadable, using null")
		return nil
	}
	return value
}

// writeVariable persists the node's output. Failures are logged but never
// fail the node result.
func (e *Engine) writeVariable(ctx context.Context, runID string, node blockflow.Node, value any) {
	ref, err := blockflow.ParseVarRef(node.OutputVarRef)
	if err == nil && e.vars != nil {
		err = e.vars.Set(ctx, ref, value)
	}
	if err != nil && e.log != nil {
		e.log.Error("Failed to set variable "+node.OutputVarRef+": "+err.Error(),
			runlog.Tags{RunID: runID, NodeID: node.ID, NodeTitle: node.DisplayTitle()})
	}
}

func (e *Engine) debugVariable(runID string, node blockflow.Node, msg string) {
	if e.log == nil {
		return
	}
	e.log.Debug(msg, runlog.Tags{RunID: runID, NodeID: node.ID, NodeTitle: node.DisplayTitle()})
}

func (e *Engine) resolvePlugin(pluginID string) (blockflow.Plugin, bool) {
	if e.plugins == nil {
		return blockflow.Plugin{}, false
	}
	p, ok := e.plugins.Resolve(pluginID)
	if !ok || p.Handler == nil {
		return blockflow.Plugin{}, false
	}
	return p, true
}

func (e *Engine) setActive(node blockflow.Node) {
	e.mu.Lock()
	e.activeNodeID = node.ID
	e.activeNodeTitle = node.DisplayTitle()
	e.mu.Unlock()
}

// emitState publishes a run_state event from a locked snapshot.
func (e *Engine) emitState() {
	e.mu.Lock()
	ev := Event{
		Type:            EventRunState,
		State:           e.state,
		RunID:           e.runID,
		ActiveNodeID:    e.activeNodeID,
		ActiveNodeTitle: e.activeNodeTitle,
		Time:            e.now(),
	}
	seq := e.seq
	e.mu.Unlock()

	ev.Seq = seq.Next()
	e.emit(ev)
}

func (e *Engine) emitNodeStatus(nodeID, status string) {
	e.mu.Lock()
	runID := e.runID
	seq := e.seq
	e.mu.Unlock()

	e.emit(Event{
		Type:   EventNodeStatus,
		RunID:  runID,
		NodeID: nodeID,
		Status: status,
		Time:   e.now(),
		Seq:    seq.Next(),
	})
}

func (e *Engine) emit(ev Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	if e.events != nil {
		e.events(ev)
	}
}

func (e *Engine) logInfo(msg, runID string, node blockflow.Node) {
	if e.log == nil {
		return
	}
	tags := runlog.Tags{RunID: runID}
	if node.ID != "" {
		tags.NodeID = node.ID
		tags.NodeTitle = node.DisplayTitle()
	}
	e.log.Info(msg, tags)
}

// resolveEntry determines the run's entry node id from the options.
func resolveEntry(g *blockflow.Graph, opts StartOptions) (string, error) {
	if opts.FromBeginning {
		start, ok := g.StartNode()
		if !ok {
			return "", ErrNoStartNode
		}
		return start.ID, nil
	}
	if opts.NodeID != "" {
		return opts.NodeID, nil
	}
	return "", ErrNoEntryPoint
}
