package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/blockflow/blockflow/engine"
	"github.com/blockflow/blockflow/loader"
	"github.com/blockflow/blockflow/store"
)

func newTestScheduler(t *testing.T, env *testEnv) *Scheduler {
	t.Helper()
	sched, err := NewScheduler(SchedulerConfig{
		Engine:   env.engine,
		Project:  env.project,
		Registry: env.registry,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return sched
}

func insertSchedule(t *testing.T, env *testEnv, s store.Schedule) store.Schedule {
	t.Helper()
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = "sched-" + s.GraphName
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if err := env.project.CreateSchedule(context.Background(), s); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	return s
}

func TestSchedulerRunsDueSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.saveGraph(t, "demo", echoGraphJSON)
	sched := insertSchedule(t, env, store.Schedule{
		GraphName: "demo",
		Cron:      "*/5 * * * *",
		Enabled:   true,
		NextRunAt: time.Now().UTC().Add(-time.Minute),
	})

	runner := newTestScheduler(t, env)
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	env.waitForIdle(t)

	got, err := env.project.GetSchedule(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.LastStatus != store.ScheduleRunStatusCompleted {
		t.Errorf("last status = %q, want %q (error: %s)", got.LastStatus, store.ScheduleRunStatusCompleted, got.LastError)
	}
	if got.LastRunID == "" {
		t.Error("last run id not recorded")
	}
	if got.LastRunAt == nil {
		t.Error("last run time not recorded")
	}
	if !got.NextRunAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("next_run_at not advanced: %v", got.NextRunAt)
	}

	runs, err := env.project.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].RunID != got.LastRunID {
		t.Errorf("run id mismatch: record %q, schedule %q", runs[0].RunID, got.LastRunID)
	}
}

func TestSchedulerSkipsOverlap(t *testing.T) {
	env := newTestEnv(t)
	release := registerBlockingPlugin(env)
	env.saveGraph(t, "demo", echoGraphJSON)

	g, _, err := loader.ParseGraph([]byte(blockingGraphJSON), "blocking.json", env.registry)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	if _, err := env.engine.Start(context.Background(), g, engine.StartOptions{FromBeginning: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sched := insertSchedule(t, env, store.Schedule{
		GraphName: "demo",
		Cron:      "*/5 * * * *",
		Enabled:   true,
		NextRunAt: time.Now().UTC().Add(-time.Minute),
	})

	runner := newTestScheduler(t, env)
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := env.project.GetSchedule(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.LastStatus != store.ScheduleRunStatusSkippedOverlap {
		t.Errorf("last status = %q, want %q", got.LastStatus, store.ScheduleRunStatusSkippedOverlap)
	}
	if !got.NextRunAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("next_run_at not advanced: %v", got.NextRunAt)
	}

	close(release)
	env.waitForIdle(t)
}

func TestSchedulerDisablesBrokenCron(t *testing.T) {
	env := newTestEnv(t)
	env.saveGraph(t, "demo", echoGraphJSON)
	sched := insertSchedule(t, env, store.Schedule{
		GraphName: "demo",
		Cron:      "not a cron",
		Enabled:   true,
		NextRunAt: time.Now().UTC().Add(-time.Minute),
	})

	runner := newTestScheduler(t, env)
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := env.project.GetSchedule(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Enabled {
		t.Error("broken schedule still enabled")
	}
	if got.LastStatus != store.ScheduleRunStatusFailed {
		t.Errorf("last status = %q, want %q", got.LastStatus, store.ScheduleRunStatusFailed)
	}
}

func TestSchedulerIgnoresFutureSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.saveGraph(t, "demo", echoGraphJSON)
	sched := insertSchedule(t, env, store.Schedule{
		GraphName: "demo",
		Cron:      "*/5 * * * *",
		Enabled:   true,
		NextRunAt: time.Now().UTC().Add(time.Hour),
	})

	runner := newTestScheduler(t, env)
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := env.project.GetSchedule(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.LastStatus != "" {
		t.Errorf("future schedule ran: last status = %q", got.LastStatus)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	env := newTestEnv(t)
	runner := newTestScheduler(t, env)

	runner.Start()
	runner.Start() // second Start is a no-op

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("Stop on stopped scheduler: %v", err)
	}
}

func TestNextScheduleTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"every minute", "* * * * *", time.Date(2025, 3, 10, 12, 31, 0, 0, time.UTC)},
		{"every five minutes", "*/5 * * * *", time.Date(2025, 3, 10, 12, 35, 0, 0, time.UTC)},
		{"daily at midnight", "0 0 * * *", time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"hourly", "0 * * * *", time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextScheduleTime(tt.expr, now)
			if err != nil {
				t.Fatalf("nextScheduleTime(%q): %v", tt.expr, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextScheduleTimeRejects(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"garbage", "not a cron"},
		{"six fields", "0 0 * * * *"},
		{"tz prefix", "TZ=America/New_York 0 0 * * *"},
		{"cron tz prefix", "CRON_TZ=Europe/Berlin 0 0 * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := nextScheduleTime(tt.expr, now); err == nil {
				t.Errorf("nextScheduleTime(%q) accepted an invalid expression", tt.expr)
			}
		})
	}
}
