// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package seatable

import (
	"context"
	"fmt"

	"github.com/olegiv/onboardbot/internal/form"
)

// Column names of a form submissions table. Name carries the requester's
// messenger ID; every distinct question text gets its own column.
const (
	submissionNameColumn      = "Name"
	submissionTimestampColumn = "Дата и время"
	submissionTimeLayout      = "02.01.2006 15:04"
)

// SaveCompletion persists a completed form as one record of its
// destination table, creating missing question columns on demand.
func (c *Client) SaveCompletion(ctx context.Context, done *form.Completion) error {
	if done.DestinationTable == "" {
		return fmt.Errorf("completion carries no destination table")
	}

	row := map[string]any{
		submissionNameColumn:      done.Requester,
		submissionTimestampColumn: done.Timestamp.Format(submissionTimeLayout),
	}
	for _, answer := range done.Rows {
		if answer.Question == "" {
			continue
		}
		row[answer.Question] = answer.Answer
	}

	if err := c.ensureColumns(ctx, done.DestinationTable, row); err != nil {
		// Column probing is best-effort: the append below still surfaces
		// a hard failure.
		c.logger.Warn("ensuring submission columns failed",
			"table", done.DestinationTable, "error", err)
	}

	if err := c.AppendRow(ctx, done.DestinationTable, row); err != nil {
		return fmt.Errorf("saving form submission: %w", err)
	}

	c.logger.Info("form submission saved",
		"table", done.DestinationTable,
		"requester", done.Requester,
		"answers", len(done.Rows))
	return nil
}

// ensureColumns creates a text column for every row key the destination
// table does not have yet.
func (c *Client) ensureColumns(ctx context.Context, tableID string, row map[string]any) error {
	existing, err := c.ListColumns(ctx, tableID)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[name] = true
	}

	for name := range row {
		if known[name] {
			continue
		}
		if err := c.AddColumn(ctx, tableID, name); err != nil {
			return err
		}
		c.logger.Info("submission column created", "table", tableID, "column", name)
	}
	return nil
}
