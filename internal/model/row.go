// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model contains domain models and constants for the application.
package model

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Reserved row names. Rows with these names carry screen-level metadata
// and are never rendered as selectable choices.
const (
	RowNameInfo         = "Info"
	RowNameFinalMessage = "Final_message"
)

// Column names of the content store schema.
const (
	ColID            = "_id"
	ColName          = "Name"
	ColContent       = "Content"
	ColSubmenuLink   = "Submenu_link"
	ColExternalLink  = "External_link"
	ColButtonContent = "Button_content"
	ColAttachment    = "Attachment"
	ColFreeInput     = "Free_input"
	ColAnswersTable  = "Answers_table"
)

// answerOptionPrefix marks the ordered answer-option columns of a form
// question row (Answer_option_1, Answer_option_2, ...).
const answerOptionPrefix = "Answer_option_"

// Row is one record of the content store, interpreted as a menu entry,
// a content leaf or a form question depending on which fields are set.
type Row struct {
	ID            string
	Name          string
	Content       string
	SubmenuLink   string
	ExternalLink  string
	ButtonContent string
	Attachment    string

	// FreeInput is nil when the column is absent on the row. The
	// distinction matters for classification: presence alone is form
	// evidence even when the value is false.
	FreeInput *bool

	// AnswerOptions holds the non-empty Answer_option_N values in their
	// declared numeric order.
	AnswerOptions []string

	// HasAnswerOptionColumn records that at least one Answer_option_N
	// column exists on the row. Like FreeInput, presence alone is form
	// evidence even when every value is empty.
	HasAnswerOptionColumn bool

	// AnswersTable is set only on the reserved Info row of a form and
	// points at the table that collects submissions.
	AnswersTable string
}

// IsReserved reports whether the row is one of the reserved metadata rows.
func (r Row) IsReserved() bool {
	return r.Name == RowNameInfo || r.Name == RowNameFinalMessage
}

// HasNavigationFields reports whether the row carries any menu-style field.
func (r Row) HasNavigationFields() bool {
	return r.SubmenuLink != "" || r.ButtonContent != "" || r.ExternalLink != ""
}

// HasFormFields reports whether the row carries any form-question field.
func (r Row) HasFormFields() bool {
	return r.FreeInput != nil || r.HasAnswerOptionColumn || len(r.AnswerOptions) > 0
}

// ParseRow builds a Row from a raw store record.
func ParseRow(raw map[string]any) Row {
	row := Row{
		ID:            stringField(raw, ColID),
		Name:          stringField(raw, ColName),
		Content:       stringField(raw, ColContent),
		SubmenuLink:   stringField(raw, ColSubmenuLink),
		ExternalLink:  stringField(raw, ColExternalLink),
		ButtonContent: stringField(raw, ColButtonContent),
		Attachment:    stringField(raw, ColAttachment),
		AnswersTable:  stringField(raw, ColAnswersTable),
	}

	if v, ok := raw[ColFreeInput]; ok {
		b := boolField(v)
		row.FreeInput = &b
	}

	for key := range raw {
		if strings.HasPrefix(key, answerOptionPrefix) {
			row.HasAnswerOptionColumn = true
			break
		}
	}

	row.AnswerOptions = answerOptions(raw)
	return row
}

// ParseRows converts a fetched row set, preserving table order.
func ParseRows(raw []map[string]any) []Row {
	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, ParseRow(r))
	}
	return rows
}

// answerOptions collects the non-empty Answer_option_N values sorted by N.
func answerOptions(raw map[string]any) []string {
	type opt struct {
		n   int
		val string
	}
	var opts []opt
	for key, v := range raw {
		if !strings.HasPrefix(key, answerOptionPrefix) {
			continue
		}
		val := stringValue(v)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, answerOptionPrefix))
		if err != nil {
			continue
		}
		opts = append(opts, opt{n: n, val: val})
	}
	if len(opts) == 0 {
		return nil
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].n < opts[j].n })

	result := make([]string, len(opts))
	for i, o := range opts {
		result[i] = o.val
	}
	return result
}

// TableRefFromLink extracts the target-table token from a URL-encoded
// pointer (the tid query parameter of a Submenu_link or Answers_table).
func TableRefFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parsing table link: %w", err)
	}
	tid := u.Query().Get("tid")
	if tid == "" {
		return "", fmt.Errorf("table link %q carries no tid token", link)
	}
	return tid, nil
}

func stringField(raw map[string]any, key string) string {
	return stringValue(raw[key])
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func boolField(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		parsed, err := strconv.ParseBool(val)
		return err == nil && parsed
	default:
		return false
	}
}
