// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the periodic jobs: importing new hires from the
// 1C export table and pruning the local event log.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/onboardbot/internal/model"
)

// Hire table column names, as written by the 1C export.
const (
	hireNameColumn       = "Name"
	hirePhoneColumn      = "Phone"
	hireEmploymentColumn = "Employment_date"
	hireProcessedColumn  = "Processed"

	userNameColumn  = "Name"
	userPhoneColumn = "Phone"
	userRoleColumn  = "Role"
)

// newcomerWindow is how long after the employment date a user keeps the
// newcomer role and its extended onboarding menu.
const newcomerWindow = 90 * 24 * time.Hour

// employmentDateLayouts are the date formats the export is known to emit.
var employmentDateLayouts = []string{"2006-01-02", "02.01.2006", time.RFC3339}

// HireStore is the subset of the content-store client the sync needs.
type HireStore interface {
	FetchRawRows(ctx context.Context, tableID string) ([]map[string]any, error)
	AppendRow(ctx context.Context, tableID string, row map[string]any) error
	UpdateRow(ctx context.Context, tableID, rowID string, row map[string]any) error
}

// Sync imports unprocessed hire rows into the Users table.
type Sync struct {
	store      HireStore
	hiresTable string
	usersTable string
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewSync creates a hire-import sync.
func NewSync(store HireStore, hiresTable, usersTable string, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		store:      store,
		hiresTable: hiresTable,
		usersTable: usersTable,
		logger:     logger,
		now:        time.Now,
	}
}

// Run imports every unprocessed hire row. Recent hires get the newcomer
// role; everyone else starts as a plain employee. Each imported row is
// marked processed so the next run skips it.
func (s *Sync) Run(ctx context.Context) (int, error) {
	rows, err := s.store.FetchRawRows(ctx, s.hiresTable)
	if err != nil {
		return 0, fmt.Errorf("fetching hire rows: %w", err)
	}

	imported := 0
	for _, row := range rows {
		if processed, _ := row[hireProcessedColumn].(bool); processed {
			continue
		}

		rowID, _ := row["_id"].(string)
		name, _ := row[hireNameColumn].(string)
		phone, _ := row[hirePhoneColumn].(string)
		if rowID == "" || name == "" {
			s.logger.Warn("skipping malformed hire row", "row", rowID)
			continue
		}

		role := s.roleFor(row)
		err := s.store.AppendRow(ctx, s.usersTable, map[string]any{
			userNameColumn:  name,
			userPhoneColumn: phone,
			userRoleColumn:  string(role),
		})
		if err != nil {
			s.logger.Error("importing hire failed", "row", rowID, "error", err)
			continue
		}

		err = s.store.UpdateRow(ctx, s.hiresTable, rowID, map[string]any{
			hireProcessedColumn: true,
		})
		if err != nil {
			// The user row exists; an unmarked hire row only means a
			// duplicate attempt next run.
			s.logger.Warn("marking hire processed failed", "row", rowID, "error", err)
		}
		imported++
	}

	if imported > 0 {
		s.logger.Info("hire sync imported users", "count", imported)
	}
	return imported, nil
}

// roleFor derives the role from the employment date. Missing or unparsable
// dates default to the plain employee role.
func (s *Sync) roleFor(row map[string]any) model.Role {
	raw, _ := row[hireEmploymentColumn].(string)
	if raw == "" {
		return model.RoleEmployee
	}
	for _, layout := range employmentDateLayouts {
		date, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if s.now().Sub(date) < newcomerWindow {
			return model.RoleNewcomer
		}
		return model.RoleEmployee
	}
	s.logger.Warn("unparsable employment date", "value", raw)
	return model.RoleEmployee
}
