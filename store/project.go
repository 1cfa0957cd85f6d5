package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/blockflow/blockflow/engine"
)

//go:embed project_schema.sql
var projectSchema string

// ProjectStore is the per-project database: graph documents, project
// variables, run records, and schedules.
type ProjectStore struct {
	db   *sql.DB
	vars *VarTable
	now  func() time.Time
}

// OpenProject opens (or creates) a project database at the given path.
func OpenProject(path string) (*ProjectStore, error) {
	db, err := openSQLite(path, projectSchema)
	if err != nil {
		return nil, err
	}
	return &ProjectStore{
		db:   db,
		vars: newVarTable(db, "project_vars", "Proj"),
		now:  time.Now,
	}, nil
}

// Close releases the underlying database.
func (s *ProjectStore) Close() error {
	return s.db.Close()
}

// Vars exposes the project-scope variable table.
func (s *ProjectStore) Vars() *VarTable {
	return s.vars
}

// SaveGraph inserts or updates a graph document by name and returns its id.
func (s *ProjectStore) SaveGraph(ctx context.Context, name string, source []byte) (int64, error) {
	now := formatTime(s.now())

	res, err := s.db.ExecContext(ctx,
		"UPDATE graphs SET graph_json = ?, updated_at = ? WHERE name = ?",
		string(source), now, name)
	if err != nil {
		return 0, fmt.Errorf("store: update graph: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: update graph affected rows: %w", err)
	}
	if affected > 0 {
		row := s.db.QueryRowContext(ctx, "SELECT graph_id FROM graphs WHERE name = ?", name)
		var id int64
		if err := row.Scan(&id); err != nil {
			return 0, fmt.Errorf("store: graph id: %w", err)
		}
		return id, nil
	}

	ins, err := s.db.ExecContext(ctx,
		"INSERT INTO graphs (name, graph_json, updated_at) VALUES (?, ?, ?)",
		name, string(source), now)
	if err != nil {
		return 0, fmt.Errorf("store: insert graph: %w", err)
	}
	id, err := ins.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: graph id: %w", err)
	}
	return id, nil
}

// GetGraph returns a stored graph document by name.
func (s *ProjectStore) GetGraph(ctx context.Context, name string) (GraphRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT graph_id, name, graph_json, updated_at FROM graphs WHERE name = ?", name)

	var (
		rec       GraphRecord
		source    string
		updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &source, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GraphRecord{}, ErrGraphNotFound
		}
		return GraphRecord{}, fmt.Errorf("store: get graph: %w", err)
	}
	rec.Source = []byte(source)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// ListGraphs returns all stored graphs, oldest first.
func (s *ProjectStore) ListGraphs(ctx context.Context) ([]GraphRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT graph_id, name, graph_json, updated_at FROM graphs ORDER BY graph_id ASC")
	if err != nil {
		return nil, fmt.Errorf("store: list graphs: %w", err)
	}
	defer rows.Close()

	var records []GraphRecord
	for rows.Next() {
		var (
			rec       GraphRecord
			source    string
			updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &source, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan graph: %w", err)
		}
		rec.Source = []byte(source)
		rec.UpdatedAt = parseTime(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list graphs rows: %w", err)
	}
	return records, nil
}

// DeleteGraph removes a stored graph by name.
func (s *ProjectStore) DeleteGraph(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM graphs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("store: delete graph: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete graph affected rows: %w", err)
	}
	if affected == 0 {
		return ErrGraphNotFound
	}
	return nil
}

// Begin records the start of a run. Implements engine.RunRecorder.
func (s *ProjectStore) Begin(ctx context.Context, runID, graphName string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, graph_name, status, started_at) VALUES (?, ?, ?, ?)",
		runID, graphName, string(engine.StateRunning), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("store: record run start: %w", err)
	}
	return nil
}

// Finish records a run's terminal state. Implements engine.RunRecorder.
func (s *ProjectStore) Finish(ctx context.Context, runID string, state engine.State, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, error_message = ? WHERE run_id = ?",
		string(state), formatTime(s.now()), errMsg, runID)
	if err != nil {
		return fmt.Errorf("store: record run finish: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: record run finish affected rows: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns one run record.
func (s *ProjectStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, graph_name, status, started_at, finished_at, error_message
FROM runs
WHERE run_id = ?`, runID)

	rec, err := scanRunRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	return rec, nil
}

// ListRuns returns run records newest first, at most limit (0 = all).
func (s *ProjectStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
SELECT run_id, graph_name, status, started_at, finished_at, error_message
FROM runs
ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs rows: %w", err)
	}
	return records, nil
}

func scanRunRecord(row rowScanner) (RunRecord, error) {
	var (
		rec        RunRecord
		startedAt  string
		finishedAt sql.NullString
		errMsg     sql.NullString
	)
	if err := row.Scan(&rec.RunID, &rec.GraphName, &rec.Status, &startedAt, &finishedAt, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("store: scan run: %w", err)
	}
	rec.StartedAt = parseTime(startedAt)
	rec.FinishedAt = nullableTime(finishedAt)
	rec.Error = errMsg.String
	return rec, nil
}

// Compile-time interface check.
var _ engine.RunRecorder = (*ProjectStore)(nil)
