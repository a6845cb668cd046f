// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package nav holds per-user conversation state: the navigation history
// stack and whatever flow (form, directory lookup) is currently live.
package nav

import (
	"github.com/olegiv/onboardbot/internal/directory"
	"github.com/olegiv/onboardbot/internal/form"
	"github.com/olegiv/onboardbot/internal/model"
)

// Session is the navigation state of one user. The history stack always
// contains at least the root screen; its top entry is the current screen.
// Enter and Back are the only mutators of the stack.
type Session struct {
	history []model.ScreenID
	Role    model.Role

	// Form is the live form walk, if any. Any navigation transition
	// discards it: partially completed forms are not recoverable.
	Form *form.State

	// Lookup is the live directory-search conversation, if any.
	Lookup *directory.Dialog
}

// NewSession creates a session positioned at the root screen.
func NewSession(root model.ScreenID) *Session {
	return &Session{history: []model.ScreenID{root}}
}

// Current returns the screen the user is viewing.
func (s *Session) Current() model.ScreenID {
	return s.history[len(s.history)-1]
}

// Depth returns the history stack depth (1 = at root).
func (s *Session) Depth() int {
	return len(s.history)
}

// AtRoot reports whether the user is at the root screen.
func (s *Session) AtRoot() bool {
	return len(s.history) == 1
}

// Enter descends into the next screen, pushing it onto the history.
// A live form or lookup is abandoned.
func (s *Session) Enter(next model.ScreenID) {
	s.history = append(s.history, next)
	s.Form = nil
	s.Lookup = nil
}

// Back pops one history entry and returns the screen to show. When the
// user is already at the root nothing is mutated and ok is false; the
// caller reports "already at the top".
func (s *Session) Back() (model.ScreenID, bool) {
	if len(s.history) <= 1 {
		return model.ScreenID{}, false
	}
	s.history = s.history[:len(s.history)-1]
	s.Form = nil
	s.Lookup = nil
	return s.Current(), true
}

// Reset clears the history back to the given root. Invoked on session
// start and on role change.
func (s *Session) Reset(root model.ScreenID) {
	s.history = []model.ScreenID{root}
	s.Form = nil
	s.Lookup = nil
}
