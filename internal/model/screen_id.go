// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// ScreenKind discriminates the addressable screen variants.
type ScreenKind string

const (
	// ScreenMenu addresses a whole table rendered as a menu (or form).
	ScreenMenu ScreenKind = "menu"
	// ScreenContent addresses a single leaf-content row of a table.
	ScreenContent ScreenKind = "content"
	// ScreenDirectory addresses the specialized directory-lookup submenu.
	ScreenDirectory ScreenKind = "ats"
)

// Callback tokens that are not screen addresses.
const (
	TokenBack             = "back"
	TokenFormOptionPrefix = "form_opt:"
	TokenDepartmentPrefix = "department:"
)

// ScreenID addresses a unit the user can be viewing: a menu table, a leaf
// content row of a table, or a directory-lookup submenu.
type ScreenID struct {
	Kind  ScreenKind
	Table string
	Row   string // set only for ScreenContent
}

// MenuScreen returns the ScreenID of a menu table.
func MenuScreen(table string) ScreenID {
	return ScreenID{Kind: ScreenMenu, Table: table}
}

// ContentScreen returns the ScreenID of a leaf-content row.
func ContentScreen(table, row string) ScreenID {
	return ScreenID{Kind: ScreenContent, Table: table, Row: row}
}

// DirectoryScreen returns the ScreenID of a directory-lookup submenu.
func DirectoryScreen(table string) ScreenID {
	return ScreenID{Kind: ScreenDirectory, Table: table}
}

// String encodes the id as a UI callback token:
// menu:<table>, content:<table>:<row>, ats:<table>.
func (id ScreenID) String() string {
	if id.Kind == ScreenContent {
		return fmt.Sprintf("%s:%s:%s", id.Kind, id.Table, id.Row)
	}
	return fmt.Sprintf("%s:%s", id.Kind, id.Table)
}

// IsContent reports whether the id addresses a leaf-content screen.
func (id ScreenID) IsContent() bool {
	return id.Kind == ScreenContent
}

// ParseScreenID decodes a callback token into a ScreenID.
func ParseScreenID(token string) (ScreenID, error) {
	parts := strings.SplitN(token, ":", 3)
	switch {
	case len(parts) >= 2 && parts[0] == string(ScreenMenu):
		return MenuScreen(parts[1]), nil
	case len(parts) == 3 && parts[0] == string(ScreenContent):
		return ContentScreen(parts[1], parts[2]), nil
	case len(parts) >= 2 && parts[0] == string(ScreenDirectory):
		return DirectoryScreen(parts[1]), nil
	}
	return ScreenID{}, fmt.Errorf("malformed screen token %q", token)
}
