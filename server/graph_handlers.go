package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blockflow/blockflow/loader"
	"github.com/blockflow/blockflow/store"
)

// handleListPlugins returns all registered plugin descriptors.
func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Descriptors())
}

// handlePluginCategories returns descriptors grouped by category.
func (s *Server) handlePluginCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ByCategory())
}

// graphResponse wraps a stored graph record with its raw document.
type graphResponse struct {
	ID        int64           `json:"graph_id"`
	Name      string          `json:"name"`
	Graph     json.RawMessage `json:"graph"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toGraphResponse(rec store.GraphRecord) graphResponse {
	return graphResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		Graph:     json.RawMessage(rec.Source),
		UpdatedAt: rec.UpdatedAt,
	}
}

// handleListGraphs returns all stored graphs.
func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	records, err := s.project.ListGraphs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	out := make([]graphResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toGraphResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetGraph returns one stored graph by name.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, err := s.project.GetGraph(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrGraphNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("graph %q not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toGraphResponse(rec))
}

// handleSaveGraph validates and upserts a graph document. Warnings are
// returned alongside the saved record; errors reject the save.
func (s *Server) handleSaveGraph(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	_, diags, err := loader.ParseGraph(body, name+".json", s.registry)
	if err != nil {
		var derr *loader.DiagnosticError
		if errors.As(err, &derr) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), diagMessages(diags)...)
			return
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	id, err := s.project.SaveGraph(r.Context(), name, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"graph_id": id,
		"warnings": diags,
	})
}

// handleDeleteGraph removes a stored graph by name.
func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.project.DeleteGraph(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrGraphNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("graph %q not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleValidateGraph runs diagnostics over a stored graph without
// executing it.
func (s *Server) handleValidateGraph(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, err := s.project.GetGraph(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrGraphNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("graph %q not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	_, diags, err := loader.ParseGraph(rec.Source, name+".json", s.registry)
	if err != nil && !errors.As(err, new(*loader.DiagnosticError)) {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if diags == nil {
		diags = []loader.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       !loader.HasErrors(diags),
		"diagnostics": diags,
	})
}

func diagMessages(diags []loader.Diagnostic) []string {
	var msgs []string
	for _, d := range diags {
		msgs = append(msgs, d.Message)
	}
	return msgs
}

func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
