package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/blockflow/blockflow/engine"
	"github.com/blockflow/blockflow/loader"
	"github.com/blockflow/blockflow/registry"
	"github.com/blockflow/blockflow/store"
)

const (
	defaultSchedulePollInterval = 5 * time.Second
	defaultScheduleBatchLimit   = 100
)

// Schedules use plain five-field cron expressions evaluated in UTC.
// Timezone prefixes (TZ=, CRON_TZ=) are rejected so a stored expression
// means the same thing on every host.
var scheduleCron = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func parseScheduleCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return nil, errors.New("cron expression is required")
	case strings.Contains(strings.ToUpper(expr), "TZ="):
		return nil, errors.New("cron expression must be UTC-only, without a timezone prefix")
	}
	sched, err := scheduleCron.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// nextScheduleTime returns the first fire time strictly after now, in UTC.
func nextScheduleTime(expr string, now time.Time) (time.Time, error) {
	sched, err := parseScheduleCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now.UTC()), nil
}

// SchedulerConfig configures the background schedule runner.
type SchedulerConfig struct {
	Engine       *engine.Engine
	Project      *store.ProjectStore
	Registry     *registry.Registry
	PollInterval time.Duration
	BatchLimit   int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically starts runs for due schedules. The engine runs
// one graph at a time, so a due schedule that collides with an in-flight
// run is marked skipped and pushed to its next slot.
type Scheduler struct {
	engine       *engine.Engine
	project      *store.ProjectStore
	registry     *registry.Registry
	pollInterval time.Duration
	batchLimit   int
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("scheduler engine is nil")
	}
	if cfg.Project == nil {
		return nil, errors.New("scheduler store is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultScheduleBatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		engine:       cfg.Engine,
		project:      cfg.Project,
		registry:     cfg.Registry,
		pollInterval: cfg.PollInterval,
		batchLimit:   cfg.BatchLimit,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}, nil
}

// Start begins background polling. Calling Start on a started scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop halts background polling and waits for the loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.project.ListDueSchedules(ctx, now, s.batchLimit)
	if err != nil {
		return err
	}

	for _, sched := range due {
		s.processDueSchedule(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) processDueSchedule(ctx context.Context, sched store.Schedule, now time.Time) {
	nextRunAt, err := nextScheduleTime(sched.Cron, now)
	if err != nil {
		s.markFailure(ctx, sched, now, err)
		return
	}

	// Advance next_run_at before starting so this slot fires at most once.
	sched.NextRunAt = nextRunAt
	sched.UpdatedAt = now
	if err := s.project.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("advance schedule", "schedule_id", sched.ID, "error", err)
		return
	}

	ranAt := now
	sched.LastRunAt = &ranAt
	run, err := s.startScheduledRun(ctx, sched)
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		sched.LastStatus = store.ScheduleRunStatusSkippedOverlap
		sched.LastError = ""
	case err != nil:
		sched.LastStatus = store.ScheduleRunStatusFailed
		sched.LastError = err.Error()
		s.logger.Error("scheduled run failed to start", "schedule_id", sched.ID, "graph", sched.GraphName, "error", err)
	default:
		sched.LastRunID = run.ID()
		select {
		case <-ctx.Done():
			return
		case <-run.Done():
		}
		outcome := run.Wait()
		if outcome.State == engine.StateFinished {
			sched.LastStatus = store.ScheduleRunStatusCompleted
			sched.LastError = ""
		} else {
			sched.LastStatus = store.ScheduleRunStatusFailed
			sched.LastError = outcomeError(outcome)
		}
	}

	if err := s.project.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("persist schedule run result", "schedule_id", sched.ID, "graph", sched.GraphName, "error", err)
	}
}

// startScheduledRun loads the schedule's graph and starts it from the
// beginning.
func (s *Scheduler) startScheduledRun(ctx context.Context, sched store.Schedule) (*engine.Run, error) {
	rec, err := s.project.GetGraph(ctx, sched.GraphName)
	if err != nil {
		return nil, err
	}

	g, _, err := loader.ParseGraph(rec.Source, sched.GraphName+".json", s.registry)
	if err != nil {
		return nil, err
	}
	if g.Name == "" {
		g.Name = sched.GraphName
	}

	run, err := s.engine.Start(ctx, g, engine.StartOptions{FromBeginning: true})
	if err != nil {
		return nil, err
	}
	s.logger.Info("scheduled run started", "schedule_id", sched.ID, "graph", sched.GraphName, "run_id", run.ID())
	return run, nil
}

func outcomeError(o engine.RunOutcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Final != nil && o.Final.Message != "" {
		return o.Final.Message
	}
	return string(o.State)
}

func (s *Scheduler) markFailure(ctx context.Context, sched store.Schedule, now time.Time, cause error) {
	sched.Enabled = false
	sched.LastStatus = store.ScheduleRunStatusFailed
	sched.LastError = cause.Error()
	sched.UpdatedAt = now
	if err := s.project.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("disable broken schedule", "schedule_id", sched.ID, "error", err)
	}
}
