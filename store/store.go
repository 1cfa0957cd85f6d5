// Package store persists blockflow state in SQLite: graph documents,
// scoped variables, run records, and schedules live in the per-project
// database; application settings and global variables live in the shared
// application database.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	ErrGraphNotFound    = errors.New("graph not found")
	ErrVarNotFound      = errors.New("variable not found")
	ErrVarNameTaken     = errors.New("variable title already exists")
	ErrRunNotFound      = errors.New("run not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrScheduleExists   = errors.New("schedule already exists")
)

// GraphRecord is a stored graph document, keyed by name.
type GraphRecord struct {
	ID        int64     `json:"graph_id"`
	Name      string    `json:"name"`
	Source    []byte    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VarDef describes a declared variable. The display title is derived from
// the id, scope, and base name at creation and never changes.
type VarDef struct {
	ID          int64     `json:"var_id"`
	BaseName    string    `json:"base_name"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Value is the current value, decoded from its JSON column.
	Value any `json:"value"`

	UpdatedAt time.Time `json:"updated_at"`
}

// RunRecord is the bookkeeping row for one engine run.
type RunRecord struct {
	RunID      string     `json:"run_id"`
	GraphName  string     `json:"graph_name"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Schedule is a persisted cron schedule for a graph.
type Schedule struct {
	ID        string `json:"id"`
	GraphName string `json:"graph_name"`
	Cron      string `json:"cron"`
	Enabled   bool   `json:"enabled"`

	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule run statuses.
const (
	ScheduleRunStatusCompleted      = "completed"
	ScheduleRunStatusFailed         = "failed"
	ScheduleRunStatusSkippedOverlap = "skipped_overlap"
)

// VarValues is the scope-agnostic value access a variable table provides.
// The Vars router composes two of these into a blockflow.VariableStore.
type VarValues interface {
	GetValue(ctx context.Context, id int64) (any, error)
	SetValue(ctx context.Context, id int64, value any) error
}
