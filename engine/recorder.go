package engine

import "context"

// RunRecorder persists run bookkeeping on behalf of the engine: a record
// is opened when a run starts and closed when it settles. The engine logs
// recorder failures but never fails a run on them; run history is owned by
// the external store, not the engine.
type RunRecorder interface {
	// Begin opens a run record in the "running" state.
	Begin(ctx context.Context, runID, graphName string) error

	// Finish closes a run record with its terminal state and, for Error
	// settles, the message that ended the run.
	Finish(ctx context.Context, runID string, state State, errMsg string) error
}
