// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/olegiv/onboardbot/internal/model"
)

// Broadcast statuses.
const (
	BroadcastStatusPending = "pending"
	BroadcastStatusRunning = "running"
	BroadcastStatusDone    = "done"

	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

// Queries wraps a database handle with typed query methods.
type Queries struct {
	db *sql.DB
}

// New creates a Queries instance over the given database.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// CreateEventParams holds the fields of a new event log entry.
type CreateEventParams struct {
	Level     string
	Category  string
	Message   string
	UserID    sql.NullInt64
	Metadata  string
	CreatedAt time.Time
}

// CreateEvent inserts an event log entry and returns it with its ID set.
func (q *Queries) CreateEvent(ctx context.Context, p CreateEventParams) (model.Event, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO events (level, category, message, user_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Level, p.Category, p.Message, p.UserID, p.Metadata, p.CreatedAt)
	if err != nil {
		return model.Event{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, err
	}

	return model.Event{
		ID:        id,
		Level:     p.Level,
		Category:  p.Category,
		Message:   p.Message,
		UserID:    p.UserID,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
	}, nil
}

// ListRecentEvents returns the newest events, most recent first.
func (q *Queries) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, level, category, message, user_id, metadata, created_at
		 FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message,
			&e.UserID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOldEvents removes events created before the cutoff.
func (q *Queries) DeleteOldEvents(ctx context.Context, cutoff time.Time) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	return err
}

// Broadcast is one fan-out run over the user base.
type Broadcast struct {
	ID         string
	Message    string
	Status     string
	Total      int
	Delivered  int
	Failed     int
	CreatedAt  time.Time
	FinishedAt sql.NullTime
}

// CreateBroadcast records a new broadcast run.
func (q *Queries) CreateBroadcast(ctx context.Context, id, message string, total int, createdAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO broadcasts (id, message, status, total, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, message, BroadcastStatusRunning, total, createdAt)
	return err
}

// FinishBroadcast stores the final counters of a broadcast run.
func (q *Queries) FinishBroadcast(ctx context.Context, id string, delivered, failed int, finishedAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, delivered = ?, failed = ?, finished_at = ?
		 WHERE id = ?`,
		BroadcastStatusDone, delivered, failed, finishedAt, id)
	return err
}

// GetBroadcast returns one broadcast run by ID.
func (q *Queries) GetBroadcast(ctx context.Context, id string) (Broadcast, error) {
	var b Broadcast
	err := q.db.QueryRowContext(ctx,
		`SELECT id, message, status, total, delivered, failed, created_at, finished_at
		 FROM broadcasts WHERE id = ?`, id).
		Scan(&b.ID, &b.Message, &b.Status, &b.Total, &b.Delivered, &b.Failed,
			&b.CreatedAt, &b.FinishedAt)
	return b, err
}

// RecordDelivery stores the outcome of one broadcast send.
func (q *Queries) RecordDelivery(ctx context.Context, broadcastID string, userID int64, status, errMsg string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO broadcast_deliveries (broadcast_id, user_id, status, error, delivered_at)
		 VALUES (?, ?, ?, ?, ?)`,
		broadcastID, userID, status, errMsg, at)
	return err
}

// CountDeliveries returns how many deliveries of a run have the given status.
func (q *Queries) CountDeliveries(ctx context.Context, broadcastID, status string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM broadcast_deliveries WHERE broadcast_id = ? AND status = ?`,
		broadcastID, status).Scan(&n)
	return n, err
}
