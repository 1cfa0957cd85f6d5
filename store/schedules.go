package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSchedule persists a new schedule.
func (s *ProjectStore) CreateSchedule(ctx context.Context, sched Schedule) error {
	now := s.now().UTC()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	if sched.UpdatedAt.IsZero() {
		sched.UpdatedAt = sched.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (id, graph_name, cron_expr, enabled, next_run_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.GraphName, sched.Cron, boolToInt(sched.Enabled),
		formatTime(sched.NextRunAt), formatTime(sched.CreatedAt), formatTime(sched.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("store: create schedule: %w", err)
	}
	return nil
}

// UpdateSchedule rewrites a schedule's mutable fields.
func (s *ProjectStore) UpdateSchedule(ctx context.Context, sched Schedule) error {
	if sched.UpdatedAt.IsZero() {
		sched.UpdatedAt = s.now().UTC()
	}

	var lastRunAt any
	if sched.LastRunAt != nil {
		lastRunAt = formatTime(*sched.LastRunAt)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE schedules
SET cron_expr = ?, enabled = ?, next_run_at = ?, last_run_at = ?, last_run_id = ?,
    last_status = ?, last_error = ?, updated_at = ?
WHERE id = ?`,
		sched.Cron, boolToInt(sched.Enabled), formatTime(sched.NextRunAt), lastRunAt,
		sched.LastRunID, sched.LastStatus, sched.LastError, formatTime(sched.UpdatedAt), sched.ID)
	if err != nil {
		return fmt.Errorf("store: update schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update schedule affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// GetSchedule returns one schedule by id.
func (s *ProjectStore) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelect+" WHERE id = ?", id)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Schedule{}, ErrScheduleNotFound
		}
		return Schedule{}, err
	}
	return sched, nil
}

// ListSchedules returns all schedules, optionally filtered by graph name.
func (s *ProjectStore) ListSchedules(ctx context.Context, graphName string) ([]Schedule, error) {
	query := scheduleSelect
	args := []any{}
	if graphName != "" {
		query += " WHERE graph_name = ?"
		args = append(args, graphName)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list schedules: %w", err)
	}
	defer rows.Close()

	var scheds []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list schedules rows: %w", err)
	}
	return scheds, nil
}

// DeleteSchedule removes a schedule by id.
func (s *ProjectStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete schedule affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// ListDueSchedules returns enabled schedules whose next run is at or
// before now, soonest first, at most limit (0 = all).
func (s *ProjectStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	query := scheduleSelect + " WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at ASC"
	args := []any{formatTime(now)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list due schedules: %w", err)
	}
	defer rows.Close()

	var scheds []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list due schedules rows: %w", err)
	}
	return scheds, nil
}

const scheduleSelect = `
SELECT id, graph_name, cron_expr, enabled, next_run_at, last_run_at, last_run_id,
       last_status, last_error, created_at, updated_at
FROM schedules`

func scanSchedule(row rowScanner) (Schedule, error) {
	var (
		sched      Schedule
		enabled    int
		nextRunAt  string
		lastRunAt  sql.NullString
		lastRunID  sql.NullString
		lastStatus sql.NullString
		lastError  sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&sched.ID, &sched.GraphName, &sched.Cron, &enabled, &nextRunAt,
		&lastRunAt, &lastRunID, &lastStatus, &lastError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Schedule{}, err
		}
		return Schedule{}, fmt.Errorf("store: scan schedule: %w", err)
	}

	sched.Enabled = enabled != 0
	sched.NextRunAt = parseTime(nextRunAt)
	sched.LastRunAt = nullableTime(lastRunAt)
	sched.LastRunID = lastRunID.String
	sched.LastStatus = lastStatus.String
	sched.LastError = lastError.String
	sched.CreatedAt = parseTime(createdAt)
	sched.UpdatedAt = parseTime(updatedAt)
	return sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
