// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package screen classifies fetched row sets and renders them into
// displayable payloads with navigation choices. Everything here is pure;
// the engine performs the I/O.
package screen

import "github.com/olegiv/onboardbot/internal/model"

// Kind is the set-level classification of a fetched table.
type Kind int

const (
	// KindMenu renders as a menu of choices, possibly with leaf content.
	KindMenu Kind = iota
	// KindForm drives the multi-question form flow.
	KindForm
)

func (k Kind) String() string {
	if k == KindForm {
		return "form"
	}
	return "menu"
}

// Classify tags a row set as a menu or a form.
//
// Rows are scanned in table order. The first row carrying a navigation
// field (Submenu_link, Button_content, External_link) stops the scan and
// the evidence accumulated so far decides: later form evidence is vetoed.
// A row with a Free_input or Answer_option column present, values aside,
// is form evidence.
// When the scan completes without a veto, an Info row pointing at an
// answers table is also form evidence. An empty set is a menu.
func Classify(rows []model.Row) Kind {
	hasFormFields := false
	for _, row := range rows {
		if row.HasNavigationFields() {
			if hasFormFields {
				return KindForm
			}
			return KindMenu
		}
		if row.HasFormFields() {
			hasFormFields = true
		}
	}

	if !hasFormFields {
		if info := FindReserved(rows, model.RowNameInfo); info != nil && info.AnswersTable != "" {
			hasFormFields = true
		}
	}

	if hasFormFields {
		return KindForm
	}
	return KindMenu
}

// FindReserved returns the first row with the given reserved name, or nil.
func FindReserved(rows []model.Row, name string) *model.Row {
	for i := range rows {
		if rows[i].Name == name {
			return &rows[i]
		}
	}
	return nil
}
