// Package scheduler runs ShiftPipe's periodic sweeps.
//
// Sweeps are scheduled with cron expressions; descriptors such as
// "@every 5m" are accepted too.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweeps every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper performs the periodic maintenance steps.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
	RemindPastDeadlines(ctx context.Context) (int, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a cron scheduler. Call Start to begin running jobs.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) plus descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Start runs scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// AddSweeps schedules the expiry and deadline sweeps on expr.
func (s *Scheduler) AddSweeps(ctx context.Context, expr string, sw Sweeper) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	return s.AddJob(expr, func() { RunSweeps(ctx, sw) })
}

var sweepMu sync.Mutex

// RunSweeps runs both sweeps once, logging their results.
func RunSweeps(ctx context.Context, sw Sweeper) {
	sweepMu.Lock()
	defer sweepMu.Unlock()

	removed, err := sw.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Scheduler.RunSweeps: cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("Scheduler.RunSweeps: expired conversations removed", "count", removed)
	}

	reminded, err := sw.RemindPastDeadlines(ctx)
	if err != nil {
		slog.Error("Scheduler.RunSweeps: reminders failed", "error", err)
	}
	if reminded > 0 {
		slog.Info("Scheduler.RunSweeps: time-request reminders sent", "count", reminded)
	}
}

// Run starts the scheduler and stops it when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	slog.Info("Scheduler.Run: started", "jobs", s.Len())
	<-ctx.Done()
	s.Stop()
	slog.Info("Scheduler.Run: stopped")
	return nil
}
