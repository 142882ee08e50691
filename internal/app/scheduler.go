/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron            *cron.Cron
	jobs            *Jobs
	logger          *slog.Logger
	refreshSchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, refreshSchedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:            c,
		jobs:            jobs,
		logger:          logger,
		refreshSchedule: refreshSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.refreshSchedule, s.jobs.RefreshAllProfiles); err != nil {
		s.logger.Error("failed to schedule member profile refresh job", "error", err)
		return err
	}
	s.logger.Info("scheduled member profile refresh job", "schedule", s.refreshSchedule)

	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
