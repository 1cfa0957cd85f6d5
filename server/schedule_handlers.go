package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/blockflow/blockflow/store"
)

// scheduleRequest is the create/update body for a schedule.
type scheduleRequest struct {
	GraphName string `json:"graph_name"`
	Cron      string `json:"cron"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// handleListSchedules returns schedules, optionally filtered by graph.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.project.ListSchedules(r.Context(), r.URL.Query().Get("graph"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if scheds == nil {
		scheds = []store.Schedule{}
	}
	writeJSON(w, http.StatusOK, scheds)
}

// handleCreateSchedule creates a cron schedule for a stored graph.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.GraphName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "graph_name is required")
		return
	}

	now := time.Now().UTC()
	nextRunAt, err := nextScheduleTime(req.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	// The graph must exist when the schedule is declared.
	if _, err := s.project.GetGraph(r.Context(), req.GraphName); err != nil {
		if errors.Is(err, store.ErrGraphNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("graph %q not found", req.GraphName))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := store.Schedule{
		ID:        uuid.NewString(),
		GraphName: req.GraphName,
		Cron:      req.Cron,
		Enabled:   enabled,
		NextRunAt: nextRunAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.project.CreateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

// handleGetSchedule returns one schedule by id.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sched, err := s.project.GetSchedule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleUpdateSchedule rewrites a schedule's cron and enablement.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sched, err := s.project.GetSchedule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if req.Cron != "" {
		nextRunAt, err := nextScheduleTime(req.Cron, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		sched.Cron = req.Cron
		sched.NextRunAt = nextRunAt
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}
	sched.UpdatedAt = time.Now().UTC()

	if err := s.project.UpdateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleDeleteSchedule removes a schedule by id.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.project.DeleteSchedule(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
