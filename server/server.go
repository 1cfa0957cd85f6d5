// Package server exposes the blockflow HTTP API: run control, graph and
// variable CRUD, plugin catalog, run history, log tailing, and schedules.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/blockflow/blockflow/engine"
	"github.com/blockflow/blockflow/registry"
	"github.com/blockflow/blockflow/runlog"
	"github.com/blockflow/blockflow/store"
)

// Config configures a Server instance.
type Config struct {
	Engine   *engine.Engine
	Project  *store.ProjectStore
	App      *store.AppStore
	Registry *registry.Registry

	// RunLog is tailed by the log endpoints.
	RunLog *runlog.Logger

	// Events, when set, is mounted at GET /api/events (the SSE stream).
	Events http.Handler

	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the blockflow HTTP API server.
type Server struct {
	engine   *engine.Engine
	project  *store.ProjectStore
	app      *store.AppStore
	registry *registry.Registry
	runLog   *runlog.Logger
	events   http.Handler

	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		engine:     cfg.Engine,
		project:    cfg.Project,
		app:        cfg.App,
		registry:   cfg.Registry,
		runLog:     cfg.RunLog,
		events:     cfg.Events,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Plugin catalog
	mux.HandleFunc("GET /api/plugins", s.handleListPlugins)
	mux.HandleFunc("GET /api/plugins/categories", s.handlePluginCategories)

	// Graphs
	mux.HandleFunc("GET /api/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /api/graphs/{name}", s.handleGetGraph)
	mux.HandleFunc("PUT /api/graphs/{name}", s.handleSaveGraph)
	mux.HandleFunc("DELETE /api/graphs/{name}", s.handleDeleteGraph)
	mux.HandleFunc("POST /api/graphs/{name}/validate", s.handleValidateGraph)

	// Run control
	mux.HandleFunc("POST /api/run/start_from_beginning", s.handleStartFromBeginning)
	mux.HandleFunc("POST /api/run/start_from_selected", s.handleStartFromSelected)
	mux.HandleFunc("POST /api/run/stop_soft", s.handleSoftStop)
	mux.HandleFunc("POST /api/run/stop_hard", s.handleHardStop)
	mux.HandleFunc("POST /api/run/resume", s.handleResume)
	mux.HandleFunc("GET /api/run/status", s.handleStatus)

	// Run history and logs
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /api/log/tail", s.handleLogTail)

	// Variables
	mux.HandleFunc("GET /api/vars/{scope}", s.handleListVars)
	mux.HandleFunc("POST /api/vars/{scope}", s.handleCreateVar)
	mux.HandleFunc("DELETE /api/vars/{scope}/{id}", s.handleDeleteVar)
	mux.HandleFunc("POST /api/vars/{scope}/{id}/value", s.handleSetVarValue)

	// Application settings
	mux.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{key}", s.handleSetSetting)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	if s.events != nil {
		mux.Handle("GET /api/events", s.events)
	}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
