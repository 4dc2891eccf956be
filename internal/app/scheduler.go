/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance running the payout batch on schedule.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler. Runs receive ctx, so cancelling
// it interrupts a batch in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.jobs.ProcessPayoutBatch(ctx) }); err != nil {
		return fmt.Errorf("schedule payout batch job %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled payout batch job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done once a
// running batch has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
