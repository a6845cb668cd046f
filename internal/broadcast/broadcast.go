// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package broadcast fans one announcement out to every registered user.
// Each run gets an ID and per-delivery bookkeeping in the local store, so
// an operator can see who a failed announcement never reached.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/onboardbot/internal/richtext"
	"github.com/olegiv/onboardbot/internal/store"
	"github.com/olegiv/onboardbot/internal/transport"
)

const defaultWorkers = 8

// UserSource lists the recipients of a broadcast.
type UserSource interface {
	ListMessengerIDs(ctx context.Context) ([]int64, error)
}

// Report summarizes one finished run.
type Report struct {
	ID        string
	Total     int
	Delivered int
	Failed    int
}

// Broadcaster sends announcements through a bounded worker pool. The
// transport's own rate limiter keeps the pool under the API send cap.
type Broadcaster struct {
	sender  transport.Sender
	users   UserSource
	queries *store.Queries
	logger  *slog.Logger
	workers int
}

// Options configures a Broadcaster.
type Options struct {
	Sender  transport.Sender
	Users   UserSource
	Queries *store.Queries
	Logger  *slog.Logger
	Workers int
}

// New creates a Broadcaster.
func New(opts Options) *Broadcaster {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Broadcaster{
		sender:  opts.Sender,
		users:   opts.Users,
		queries: opts.Queries,
		logger:  opts.Logger,
		workers: opts.Workers,
	}
}

// Send delivers the message to every registered user and returns the run
// report. Individual delivery failures are recorded, not fatal.
func (b *Broadcaster) Send(ctx context.Context, message string) (*Report, error) {
	ids, err := b.users.ListMessengerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing broadcast recipients: %w", err)
	}

	runID := uuid.NewString()
	if err := b.queries.CreateBroadcast(ctx, runID, message, len(ids), time.Now()); err != nil {
		return nil, fmt.Errorf("recording broadcast run: %w", err)
	}

	payload := richtext.Prepare(message)

	var delivered, failed atomic.Int64
	jobs := make(chan int64)
	var wg sync.WaitGroup

	for range b.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				if err := b.sender.Send(ctx, userID, payload, nil); err != nil {
					failed.Add(1)
					b.logger.Warn("broadcast delivery failed",
						"broadcast", runID, "user_id", userID, "error", err)
					b.record(ctx, runID, userID, store.DeliveryStatusFailed, err.Error())
					continue
				}
				delivered.Add(1)
				b.record(ctx, runID, userID, store.DeliveryStatusSent, "")
			}
		}()
	}

	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	report := &Report{
		ID:        runID,
		Total:     len(ids),
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
	}
	if err := b.queries.FinishBroadcast(ctx, runID, report.Delivered, report.Failed, time.Now()); err != nil {
		b.logger.Error("finishing broadcast run failed", "broadcast", runID, "error", err)
	}

	b.logger.Info("broadcast finished", "broadcast", runID,
		"total", report.Total, "delivered", report.Delivered, "failed", report.Failed)
	return report, nil
}

func (b *Broadcaster) record(ctx context.Context, runID string, userID int64, status, errMsg string) {
	if err := b.queries.RecordDelivery(ctx, runID, userID, status, errMsg, time.Now()); err != nil {
		b.logger.Warn("recording delivery failed", "broadcast", runID, "user_id", userID, "error", err)
	}
}
