// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/onboardbot/internal/store"
)

// eventRetention is how long event log entries are kept.
const eventRetention = 90 * 24 * time.Hour

// Scheduler runs the periodic jobs on cron schedules.
type Scheduler struct {
	db     *sql.DB
	sync   *Sync
	cron   *cron.Cron
	logger *slog.Logger

	syncSpec    string
	cleanupSpec string
}

// Options configures the scheduler.
type Options struct {
	DB     *sql.DB
	Sync   *Sync
	Logger *slog.Logger

	// SyncSpec is the cron schedule of the hire import. Defaults to
	// hourly at minute 10.
	SyncSpec string
	// CleanupSpec is the cron schedule of the event log pruning.
	// Defaults to daily at 03:30.
	CleanupSpec string
}

// New creates a scheduler instance.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncSpec == "" {
		opts.SyncSpec = "10 * * * *"
	}
	if opts.CleanupSpec == "" {
		opts.CleanupSpec = "30 3 * * *"
	}
	return &Scheduler{
		db:          opts.DB,
		sync:        opts.Sync,
		cron:        cron.New(),
		logger:      opts.Logger,
		syncSpec:    opts.SyncSpec,
		cleanupSpec: opts.CleanupSpec,
	}
}

// Start registers the jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.syncSpec, func() {
		if _, err := s.sync.Run(context.Background()); err != nil {
			s.logger.Error("hire sync failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(s.cleanupSpec, func() {
		if err := s.cleanupEvents(); err != nil {
			s.logger.Error("event log cleanup failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// cleanupEvents prunes event log entries past the retention window.
func (s *Scheduler) cleanupEvents() error {
	cutoff := time.Now().Add(-eventRetention)
	return store.New(s.db).DeleteOldEvents(context.Background(), cutoff)
}
