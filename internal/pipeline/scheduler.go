// Package pipeline runs streamhub's periodic background work: the settlement
// sweep over declared predictions and the audit log archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

// Scheduler runs named jobs on cron schedules. Standard five-field
// expressions and descriptors such as "@every 1m" are accepted. A job that
// is still running when its next tick arrives skips that tick.
type Scheduler struct {
	jobs       []job
	jobTimeout time.Duration
	logger     *slog.Logger
}

// NewScheduler creates an empty Scheduler. Each run gets jobTimeout to
// finish; zero means no limit beyond the scheduler's own lifetime.
func NewScheduler(jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobTimeout: jobTimeout,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// Add registers a job. The schedule is validated immediately.
func (s *Scheduler) Add(name, schedule string, run func(ctx context.Context) error) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("pipeline: job %s: parse schedule %q: %w", name, schedule, err)
	}
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, run: run})
	return nil
}

// Len reports how many jobs are registered.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Run starts every job and blocks until ctx is cancelled, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	for _, j := range s.jobs {
		if _, err := c.AddFunc(j.schedule, func() { s.runOnce(ctx, j) }); err != nil {
			return fmt.Errorf("pipeline: schedule %s: %w", j.name, err)
		}
		s.logger.InfoContext(ctx, "job scheduled",
			slog.String("job", j.name),
			slog.String("schedule", j.schedule),
		)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			slog.String("job", j.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "job finished",
		slog.String("job", j.name),
		slog.Duration("took", time.Since(start)),
	)
}
