package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

//go:embed app_schema.sql
var appSchema string

// AppStore is the shared application database: settings and global
// variables that outlive any single project.
type AppStore struct {
	db   *sql.DB
	vars *VarTable
	now  func() time.Time
}

// OpenApp opens (or creates) the application database at the given path.
func OpenApp(path string) (*AppStore, error) {
	db, err := openSQLite(path, appSchema)
	if err != nil {
		return nil, err
	}
	return &AppStore{
		db:   db,
		vars: newVarTable(db, "global_vars", "Glob"),
		now:  time.Now,
	}, nil
}

// Close releases the underlying database.
func (s *AppStore) Close() error {
	return s.db.Close()
}

// Vars exposes the global-scope variable table.
func (s *AppStore) Vars() *VarTable {
	return s.vars
}

// GetSetting decodes a setting into out. Returns false when the key has
// never been set.
func (s *AppStore) GetSetting(ctx context.Context, key string, out any) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT value_json FROM app_settings WHERE key = ?", key)

	var valueJSON string
	if err := row.Scan(&valueJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: get setting: %w", err)
	}
	if err := json.Unmarshal([]byte(valueJSON), out); err != nil {
		return false, fmt.Errorf("store: decode setting %q: %w", key, err)
	}
	return true, nil
}

// SetSetting stores a setting value as JSON, replacing any previous value.
func (s *AppStore) SetSetting(ctx context.Context, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode setting %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO app_settings (key, value_json, updated_at) VALUES (?, ?, ?)",
		key, string(valueJSON), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("store: set setting: %w", err)
	}
	return nil
}
