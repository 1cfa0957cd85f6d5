package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// VarTable is the CRUD surface over one scope's variable def/val pair of
// tables. Project and global variables share this implementation and
// differ only in table prefix and title tag.
type VarTable struct {
	db     *sql.DB
	prefix string // "project_vars" or "global_vars"
	tag    string // "Proj" or "Glob", baked into generated titles
	now    func() time.Time
}

func newVarTable(db *sql.DB, prefix, tag string) *VarTable {
	return &VarTable{db: db, prefix: prefix, tag: tag, now: time.Now}
}

// Create declares a new variable and its null value row. The display
// title is generated from the assigned id.
func (t *VarTable) Create(ctx context.Context, baseName, description string) (VarDef, error) {
	now := t.now().UTC()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return VarDef{}, fmt.Errorf("store: begin create variable: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s_def (base_name, title, description, created_at) VALUES (?, '', ?, ?)", t.prefix),
		baseName, description, formatTime(now))
	if err != nil {
		return VarDef{}, fmt.Errorf("store: create variable: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return VarDef{}, fmt.Errorf("store: variable id: %w", err)
	}

	title := fmt.Sprintf("%dValue_%s_%s", id, t.tag, baseName)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s_def SET title = ? WHERE var_id = ?", t.prefix), title, id); err != nil {
		if isUniqueViolation(err) {
			return VarDef{}, ErrVarNameTaken
		}
		return VarDef{}, fmt.Errorf("store: set variable title: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s_val (var_id, value_json, updated_at) VALUES (?, 'null', ?)", t.prefix),
		id, formatTime(now)); err != nil {
		return VarDef{}, fmt.Errorf("store: create variable value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VarDef{}, fmt.Errorf("store: commit create variable: %w", err)
	}

	return VarDef{
		ID:          id,
		BaseName:    baseName,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// List returns all declared variables with their current values.
func (t *VarTable) List(ctx context.Context) ([]VarDef, error) {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(`
SELECT d.var_id, d.base_name, d.title, d.description, d.created_at, v.value_json, v.updated_at
FROM %s_def d
JOIN %s_val v ON d.var_id = v.var_id
ORDER BY d.var_id ASC`, t.prefix, t.prefix))
	if err != nil {
		return nil, fmt.Errorf("store: list variables: %w", err)
	}
	defer rows.Close()

	var defs []VarDef
	for rows.Next() {
		def, err := scanVarDef(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list variables rows: %w", err)
	}
	return defs, nil
}

// Get returns one declared variable with its current value.
func (t *VarTable) Get(ctx context.Context, id int64) (VarDef, error) {
	row := t.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT d.var_id, d.base_name, d.title, d.description, d.created_at, v.value_json, v.updated_at
FROM %s_def d
JOIN %s_val v ON d.var_id = v.var_id
WHERE d.var_id = ?`, t.prefix, t.prefix), id)

	def, err := scanVarDef(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VarDef{}, ErrVarNotFound
		}
		return VarDef{}, err
	}
	return def, nil
}

// Delete removes a variable definition; the value row cascades.
func (t *VarTable) Delete(ctx context.Context, id int64) error {
	res, err := t.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s_def WHERE var_id = ?", t.prefix), id)
	if err != nil {
		return fmt.Errorf("store: delete variable: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete variable affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVarNotFound
	}
	return nil
}

// GetValue returns the decoded current value. An undeclared id is
// ErrVarNotFound; a declared variable that was never set decodes to nil.
func (t *VarTable) GetValue(ctx context.Context, id int64) (any, error) {
	row := t.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value_json FROM %s_val WHERE var_id = ?", t.prefix), id)

	var valueJSON sql.NullString
	if err := row.Scan(&valueJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVarNotFound
		}
		return nil, fmt.Errorf("store: get variable value: %w", err)
	}
	return decodeValue(valueJSON), nil
}

// SetValue encodes and stores a new value for a declared variable.
func (t *VarTable) SetValue(ctx context.Context, id int64, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode variable value: %w", err)
	}

	res, err := t.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s_val SET value_json = ?, updated_at = ? WHERE var_id = ?", t.prefix),
		string(valueJSON), formatTime(t.now()), id)
	if err != nil {
		return fmt.Errorf("store: set variable value: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set variable value affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVarNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVarDef(row rowScanner) (VarDef, error) {
	var (
		def         VarDef
		description sql.NullString
		createdAt   string
		valueJSON   sql.NullString
		updatedAt   string
	)
	if err := row.Scan(&def.ID, &def.BaseName, &def.Title, &description, &createdAt, &valueJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VarDef{}, err
		}
		return VarDef{}, fmt.Errorf("store: scan variable: %w", err)
	}
	def.Description = description.String
	def.CreatedAt = parseTime(createdAt)
	def.UpdatedAt = parseTime(updatedAt)
	def.Value = decodeValue(valueJSON)
	return def, nil
}

func decodeValue(valueJSON sql.NullString) any {
	if !valueJSON.Valid || valueJSON.String == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(valueJSON.String), &value); err != nil {
		return nil
	}
	return value
}

// Compile-time interface check.
var _ VarValues = (*VarTable)(nil)
