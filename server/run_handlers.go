package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/blockflow/blockflow/engine"
	"github.com/blockflow/blockflow/loader"
	"github.com/blockflow/blockflow/runlog"
	"github.com/blockflow/blockflow/store"
)

// startRequest selects the graph and entry point for a run.
type startRequest struct {
	GraphName string `json:"graph_name"`
	NodeID    string `json:"node_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// handleStartFromBeginning starts a run at the graph's start marker node.
func (s *Server) handleStartFromBeginning(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, true)
}

// handleStartFromSelected starts a run at an explicitly chosen node.
func (s *Server) handleStartFromSelected(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, false)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, fromBeginning bool) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.GraphName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "graph_name is required")
		return
	}
	if !fromBeginning && req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "node_id is required")
		return
	}

	rec, err := s.project.GetGraph(r.Context(), req.GraphName)
	if err != nil {
		if errors.Is(err, store.ErrGraphNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("graph %q not found", req.GraphName))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	g, _, err := loader.ParseGraph(rec.Source, req.GraphName+".json", s.registry)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	if g.Name == "" {
		g.Name = req.GraphName
	}

	// The run outlives the request; detach it from the request context so
	// the client disconnecting does not abort traversal or bookkeeping.
	run, err := s.engine.Start(context.WithoutCancel(r.Context()), g, engine.StartOptions{
		NodeID:        req.NodeID,
		FromBeginning: fromBeginning,
		RunID:         req.RunID,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "ALREADY_RUNNING", "execution already in progress")
		case errors.Is(err, engine.ErrNoStartNode), errors.Is(err, engine.ErrNoEntryPoint):
			writeError(w, http.StatusUnprocessableEntity, "NO_ENTRY_POINT", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
		}
		return
	}

	s.logger.Info("run started", "run_id", run.ID(), "graph", req.GraphName, "from_beginning", fromBeginning)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "run_id": run.ID()})
}

// handleSoftStop requests a graceful stop of the current run.
func (s *Server) handleSoftStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.SoftStop()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleHardStop requests an immediate stop of the current run.
func (s *Server) handleHardStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.HardStop()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleResume releases a run paused at a breakpoint.
func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleStatus returns the engine's state snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleListRuns returns run records, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.project.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one run record.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	rec, err := s.project.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("run %q not found", runID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleLogTail returns the last n lines of the run log, optionally
// filtered by level.
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	if s.runLog == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "run log is not configured")
		return
	}

	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "n must be a non-negative integer")
			return
		}
		n = parsed
	}

	level := strings.ToUpper(r.URL.Query().Get("level"))
	switch level {
	case "", runlog.LevelDebug, runlog.LevelInfo, runlog.LevelWarn, runlog.LevelError:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown log level "+level)
		return
	}

	lines, err := s.runLog.Tail(n, level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOG_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}
