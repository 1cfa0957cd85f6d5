package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockflow/blockflow/engine"
)

func openTestProject(t *testing.T) *ProjectStore {
	t.Helper()
	s, err := OpenProject(filepath.Join(t.TempDir(), "project.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProjectStore_GraphCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestProject(t)

	if _, err := s.GetGraph(ctx, "demo"); !errors.Is(err, ErrGraphNotFound) {
		t.Fatalf("GetGraph() error = %v, want ErrGraphNotFound", err)
	}

	id, err := s.SaveGraph(ctx, "demo", []byte(`{"nodes":[]}`))
	if err != nil {
		t.Fatalf("SaveGraph() error = %v", err)
	}
	if id == 0 {
		t.Error("SaveGraph() returned zero id")
	}

	// Saving again under the same name updates in place.
	id2, err := s.SaveGraph(ctx, "demo", []byte(`{"nodes":[{"id":"a"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Errorf("second SaveGraph() id = %d, want %d", id2, id)
	}

	rec, err := s.GetGraph(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Source) != `{"nodes":[{"id":"a"}]}` {
		t.Errorf("source = %s", rec.Source)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	if _, err := s.SaveGraph(ctx, "other", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	records, err := s.ListGraphs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Name != "demo" {
		t.Errorf("ListGraphs() = %+v", records)
	}

	if err := s.DeleteGraph(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGraph(ctx, "demo"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("second DeleteGraph() error = %v, want ErrGraphNotFound", err)
	}
}

func TestProjectStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestProject(t)

	if err := s.Begin(ctx, "run_1", "demo"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	rec, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != string(engine.StateRunning) || rec.FinishedAt != nil {
		t.Errorf("in-flight record = %+v", rec)
	}

	if err := s.Finish(ctx, "run_1", engine.StateFinished, ""); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	rec, err = s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != string(engine.StateFinished) || rec.FinishedAt == nil {
		t.Errorf("settled record = %+v", rec)
	}

	if err := s.Finish(ctx, "run_ghost", engine.StateError, "x"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Finish() on unknown run error = %v, want ErrRunNotFound", err)
	}
	if _, err := s.GetRun(ctx, "run_ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestProjectStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestProject(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run_a", "run_b", "run_c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		if err := s.Begin(ctx, id, "demo"); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run_c" || runs[1].RunID != "run_b" {
		t.Errorf("ListRuns(2) = %+v, want newest first", runs)
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) len = %d, want 3", len(all))
	}
}

func TestProjectStore_ScheduleCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestProject(t)

	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched := Schedule{ID: "sch_1", GraphName: "demo", Cron: "0 * * * *", Enabled: true, NextRunAt: next}

	if err := s.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if err := s.CreateSchedule(ctx, sched); !errors.Is(err, ErrScheduleExists) {
		t.Errorf("duplicate CreateSchedule() error = %v, want ErrScheduleExists", err)
	}

	got, err := s.GetSchedule(ctx, "sch_1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || !got.NextRunAt.Equal(next) || got.Cron != "0 * * * *" {
		t.Errorf("schedule = %+v", got)
	}

	ranAt := next.Add(time.Second)
	got.Enabled = false
	got.LastRunAt = &ranAt
	got.LastRunID = "run_1"
	got.LastStatus = ScheduleRunStatusCompleted
	got.NextRunAt = next.Add(time.Hour)
	if err := s.UpdateSchedule(ctx, got); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}

	got, err = s.GetSchedule(ctx, "sch_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled || got.LastRunID != "run_1" || got.LastRunAt == nil || !got.LastRunAt.Equal(ranAt) {
		t.Errorf("updated schedule = %+v", got)
	}

	if err := s.DeleteSchedule(ctx, "sch_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSchedule(ctx, "sch_1"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("GetSchedule() after delete error = %v, want ErrScheduleNotFound", err)
	}
}

func TestProjectStore_ListDueSchedules(t *testing.T) {
	ctx := context.Background()
	s := openTestProject(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, enabled bool, next time.Time) {
		t.Helper()
		if err := s.CreateSchedule(ctx, Schedule{
			ID: id, GraphName: "demo", Cron: "* * * * *", Enabled: enabled, NextRunAt: next,
		}); err != nil {
			t.Fatal(err)
		}
	}
	mk("due_early", true, now.Add(-2*time.Hour))
	mk("due_late", true, now.Add(-time.Minute))
	mk("not_due", true, now.Add(time.Hour))
	mk("disabled", false, now.Add(-time.Hour))

	due, err := s.ListDueSchedules(ctx, now, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != "due_early" || due[1].ID != "due_late" {
		t.Errorf("due = %+v, want [due_early due_late]", due)
	}

	one, err := s.ListDueSchedules(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].ID != "due_early" {
		t.Errorf("limited due = %+v", one)
	}
}
