package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/blockflow/blockflow"
	"github.com/blockflow/blockflow/store"
)

// scopedVars resolves the {scope} path segment to that scope's table.
func (s *Server) scopedVars(scope string) (*store.VarTable, error) {
	switch blockflow.Scope(scope) {
	case blockflow.ScopeProject:
		return s.project.Vars(), nil
	case blockflow.ScopeGlobal:
		return s.app.Vars(), nil
	default:
		return nil, fmt.Errorf("unknown variable scope %q", scope)
	}
}

// handleListVars returns all declared variables in a scope.
func (s *Server) handleListVars(w http.ResponseWriter, r *http.Request) {
	vars, err := s.scopedVars(r.PathValue("scope"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	defs, err := vars.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if defs == nil {
		defs = []store.VarDef{}
	}
	writeJSON(w, http.StatusOK, defs)
}

// createVarRequest declares a new variable.
type createVarRequest struct {
	BaseName    string `json:"base_name"`
	Description string `json:"description,omitempty"`
}

// handleCreateVar declares a variable in a scope.
func (s *Server) handleCreateVar(w http.ResponseWriter, r *http.Request) {
	vars, err := s.scopedVars(r.PathValue("scope"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	var req createVarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.BaseName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "base_name is required")
		return
	}

	def, err := vars.Create(r.Context(), req.BaseName, req.Description)
	if err != nil {
		if errors.Is(err, store.ErrVarNameTaken) {
			writeError(w, http.StatusConflict, "CONFLICT", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// handleDeleteVar removes a variable and its value.
func (s *Server) handleDeleteVar(w http.ResponseWriter, r *http.Request) {
	vars, id, ok := s.varWithID(w, r)
	if !ok {
		return
	}

	if err := vars.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrVarNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("variable %d not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// setVarValueRequest carries the new value verbatim.
type setVarValueRequest struct {
	Value any `json:"value"`
}

// handleSetVarValue replaces a variable's value.
func (s *Server) handleSetVarValue(w http.ResponseWriter, r *http.Request) {
	vars, id, ok := s.varWithID(w, r)
	if !ok {
		return
	}

	var req setVarValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if err := vars.SetValue(r.Context(), id, req.Value); err != nil {
		if errors.Is(err, store.ErrVarNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("variable %d not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// varWithID resolves the scope table and numeric id path segments,
// writing the error response itself on failure.
func (s *Server) varWithID(w http.ResponseWriter, r *http.Request) (*store.VarTable, int64, bool) {
	vars, err := s.scopedVars(r.PathValue("scope"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return nil, 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "variable id must be an integer")
		return nil, 0, false
	}
	return vars, id, true
}
