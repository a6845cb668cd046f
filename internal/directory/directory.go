// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package directory implements the employee phone-book lookup: a small
// conversation automaton (search by name or by department) over the
// directory base.
package directory

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/looplab/fsm"
)

// Conversation states.
const (
	StateIdle         = "idle"
	StateChoosingMode = "choosing_mode"
	StateAwaitingName = "awaiting_name"
	StateAwaitingDept = "awaiting_department"
)

// Conversation events.
const (
	EventOpen       = "open"
	EventChooseName = "choose_name"
	EventChooseDept = "choose_department"
	EventQuery      = "query"
	EventCancel     = "cancel"
)

// Choice labels of the search-mode prompt.
const (
	LabelSearchByName = "🔍 Искать по ФИО"
	LabelSearchByDept = "🏢 Искать по отделу"
)

// Dialog tracks one user's position in the lookup conversation.
type Dialog struct {
	Table string
	fsm   *fsm.FSM
}

// NewDialog starts a lookup conversation over the given directory table.
func NewDialog(table string) *Dialog {
	return &Dialog{
		Table: table,
		fsm: fsm.NewFSM(
			StateIdle,
			fsm.Events{
				{Name: EventOpen, Src: []string{StateIdle}, Dst: StateChoosingMode},
				{Name: EventChooseName, Src: []string{StateChoosingMode}, Dst: StateAwaitingName},
				{Name: EventChooseDept, Src: []string{StateChoosingMode}, Dst: StateAwaitingDept},
				{Name: EventQuery, Src: []string{StateAwaitingName, StateAwaitingDept}, Dst: StateIdle},
				{Name: EventCancel, Src: []string{StateChoosingMode, StateAwaitingName, StateAwaitingDept}, Dst: StateIdle},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current conversation state.
func (d *Dialog) State() string {
	return d.fsm.Current()
}

// Fire advances the conversation. Transitions not defined for the current
// state return an error and leave the state unchanged.
func (d *Dialog) Fire(event string) error {
	return d.fsm.Event(context.Background(), event)
}

// Employee is one directory record.
type Employee struct {
	Name       string
	Department string
	Position   string
	Phone      string
	Email      string
	Location   string
}

// SearchByName returns employees whose name contains the query,
// case-insensitively.
func SearchByName(employees []Employee, query string) []Employee {
	return search(employees, query, func(e Employee) string { return e.Name })
}

// SearchByDepartment returns employees whose department contains the
// query, case-insensitively.
func SearchByDepartment(employees []Employee, query string) []Employee {
	return search(employees, query, func(e Employee) string { return e.Department })
}

func search(employees []Employee, query string, field func(Employee) string) []Employee {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}

	var found []Employee
	for _, e := range employees {
		if strings.Contains(strings.ToLower(field(e)), needle) {
			found = append(found, e)
		}
	}
	return found
}

// FormatResults renders search results as one message. An empty result set
// yields a fixed not-found notice. The message goes out with HTML parse
// mode, so every directory value is escaped.
func FormatResults(employees []Employee) string {
	if len(employees) == 0 {
		return "Никого не нашлось. Попробуйте уточнить запрос."
	}

	var sb strings.Builder
	for i, e := range employees {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "<b>%s</b>", html.EscapeString(e.Name))
		if e.Position != "" {
			fmt.Fprintf(&sb, "\n%s", html.EscapeString(e.Position))
		}
		if e.Department != "" {
			fmt.Fprintf(&sb, "\nОтдел: %s", html.EscapeString(e.Department))
		}
		if e.Phone != "" {
			fmt.Fprintf(&sb, "\nТелефон: %s", html.EscapeString(e.Phone))
		}
		if e.Email != "" {
			fmt.Fprintf(&sb, "\nEmail: %s", html.EscapeString(e.Email))
		}
		if e.Location != "" {
			fmt.Fprintf(&sb, "\nОфис: %s", html.EscapeString(e.Location))
		}
	}
	return sb.String()
}

// ParseEmployees converts raw directory rows into Employee records.
func ParseEmployees(raw []map[string]any) []Employee {
	employees := make([]Employee, 0, len(raw))
	for _, row := range raw {
		employees = append(employees, Employee{
			Name:       str(row["Name/Department"]),
			Department: str(row["Department"]),
			Position:   str(row["Position"]),
			Phone:      str(row["Number"]),
			Email:      str(row["Email"]),
			Location:   str(row["Location"]),
		})
	}
	return employees
}

func str(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
