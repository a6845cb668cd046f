// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package screen

import (
	"strings"

	"github.com/olegiv/onboardbot/internal/model"
	"github.com/olegiv/onboardbot/internal/richtext"
)

// ChoiceKind distinguishes how a rendered choice behaves when pressed.
type ChoiceKind int

const (
	// ChoiceDescend navigates into a nested screen (menu, directory or
	// leaf content); Target carries the callback token.
	ChoiceDescend ChoiceKind = iota
	// ChoiceLink opens an external URL without any state change.
	ChoiceLink
	// ChoiceBack pops one history entry.
	ChoiceBack
	// ChoiceOption submits a form answer option.
	ChoiceOption
)

// Choice is one selectable item of a rendered screen.
type Choice struct {
	Kind   ChoiceKind
	Label  string
	Target string // callback token for Descend/Option, URL for Link
}

// BackLabel is the label of the synthetic back choice.
const BackLabel = "⬅️ Назад"

// BackChoice returns the synthetic history-pop choice.
func BackChoice() Choice {
	return Choice{Kind: ChoiceBack, Label: BackLabel, Target: model.TokenBack}
}

// Options configures rendering.
type Options struct {
	// RootTable is the main menu table; the back choice is omitted there.
	RootTable string
	// DirectoryMarker identifies a Submenu_link that points into the
	// directory-lookup base rather than an ordinary submenu.
	DirectoryMarker string
}

// Render turns a menu row set into its payload and choice set.
//
// The reserved Info row supplies the header payload. Every other named row
// yields one choice in table order: a submenu link descends (as a
// directory lookup when the link carries the configured marker), an
// external link opens as-is, and a row with only Button_content references
// its own leaf content. A back choice is appended unless this is the root
// screen.
func Render(rows []model.Row, id model.ScreenID, opts Options) (richtext.Payload, []Choice) {
	payload := headerPayload(rows)
	choices := make([]Choice, 0, len(rows)+1)

	for _, row := range rows {
		if row.Name == "" || row.Name == model.RowNameInfo {
			continue
		}

		switch {
		case row.SubmenuLink != "":
			ref, err := model.TableRefFromLink(row.SubmenuLink)
			if err != nil {
				continue
			}
			target := model.MenuScreen(ref)
			if opts.DirectoryMarker != "" && strings.Contains(row.SubmenuLink, opts.DirectoryMarker) {
				target = model.DirectoryScreen(ref)
			}
			choices = append(choices, Choice{
				Kind:   ChoiceDescend,
				Label:  row.Name,
				Target: target.String(),
			})
		case row.ExternalLink != "":
			choices = append(choices, Choice{
				Kind:   ChoiceLink,
				Label:  row.Name,
				Target: row.ExternalLink,
			})
		case row.ButtonContent != "":
			choices = append(choices, Choice{
				Kind:   ChoiceDescend,
				Label:  row.Name,
				Target: model.ContentScreen(id.Table, row.ID).String(),
			})
		}
	}

	if id.Table != opts.RootTable {
		choices = append(choices, BackChoice())
	}

	return payload, choices
}

// RenderContent renders a single leaf-content row: its Button_content as
// the payload, the attachment URL when present, and a lone back choice.
// The bool result is false when the row is not found in the set.
func RenderContent(rows []model.Row, rowID string) (richtext.Payload, []Choice, bool) {
	for _, row := range rows {
		if row.ID != rowID {
			continue
		}
		payload := richtext.Prepare(row.ButtonContent)
		payload.AttachmentURL = row.Attachment
		return payload, []Choice{BackChoice()}, true
	}
	return richtext.Payload{}, nil, false
}

// headerPayload extracts the Info row content, or an empty payload.
func headerPayload(rows []model.Row) richtext.Payload {
	if info := FindReserved(rows, model.RowNameInfo); info != nil && info.Content != "" {
		return richtext.Prepare(info.Content)
	}
	return richtext.Payload{}
}
