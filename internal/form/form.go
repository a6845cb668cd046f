// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package form drives a feedback form as a finite walk over ordered
// question rows, collecting answers and producing a persistence request on
// completion. The walk itself is pure; the engine performs the I/O.
package form

import (
	"errors"
	"time"

	"github.com/olegiv/onboardbot/internal/model"
)

var (
	// ErrMalformedForm indicates the form table is not usable: the
	// reserved Info row is missing, or questions and answers diverged.
	ErrMalformedForm = errors.New("malformed form")

	// ErrOptionRequired indicates free text was submitted to a question
	// that only accepts one of its offered options. The state is left
	// unchanged; the caller re-prompts.
	ErrOptionRequired = errors.New("answer must be one of the offered options")
)

// State is the per-user progress through a form. It is created when a form
// screen is entered and discarded on completion or abandonment.
type State struct {
	Questions        []model.Row
	CurrentQuestion  int
	Answers          []string
	DestinationTable string
	FinalMessage     string
}

// Question is what the renderer needs to ask the current question.
type Question struct {
	Text      string
	FreeInput bool
	Options   []string
}

// AnswerRow is one question/answer pair of a completed form.
type AnswerRow struct {
	Question string
	Answer   string
}

// Completion carries everything needed to persist a finished form.
type Completion struct {
	Requester        string
	Rows             []AnswerRow
	DestinationTable string
	FinalMessage     string
	Timestamp        time.Time
}

// Start builds a fresh State from a classified form row set. The reserved
// Info and Final_message rows are metadata, not questions; Info must exist
// and point at the destination table.
func Start(rows []model.Row) (*State, error) {
	state := &State{}

	var info *model.Row
	for i := range rows {
		switch rows[i].Name {
		case model.RowNameInfo:
			info = &rows[i]
		case model.RowNameFinalMessage:
			state.FinalMessage = rows[i].Content
		default:
			state.Questions = append(state.Questions, rows[i])
		}
	}

	if info == nil || info.AnswersTable == "" {
		return nil, ErrMalformedForm
	}

	dest, err := model.TableRefFromLink(info.AnswersTable)
	if err != nil {
		return nil, ErrMalformedForm
	}
	state.DestinationTable = dest

	return state, nil
}

// Done reports whether every question has been answered.
func (s *State) Done() bool {
	return s.CurrentQuestion >= len(s.Questions)
}

// Current returns the question the user is expected to answer next.
// Free input is accepted when the row's Free_input flag is explicitly true
// or when the row offers no options at all.
func (s *State) Current() (Question, error) {
	if s.Done() {
		return Question{}, ErrMalformedForm
	}

	row := s.Questions[s.CurrentQuestion]
	free := (row.FreeInput != nil && *row.FreeInput) || len(row.AnswerOptions) == 0

	return Question{
		Text:      row.Name,
		FreeInput: free,
		Options:   row.AnswerOptions,
	}, nil
}

// Submit records an answer and advances the walk. fromOption marks answers
// that originated from an offered option choice; free text is only
// accepted when the current question allows it. On the final answer a
// Completion is returned and the State must be discarded by the caller.
func (s *State) Submit(requester, answer string, fromOption bool) (*Completion, error) {
	if len(s.Answers) != s.CurrentQuestion {
		return nil, ErrMalformedForm
	}

	q, err := s.Current()
	if err != nil {
		return nil, err
	}
	if !fromOption && !q.FreeInput {
		return nil, ErrOptionRequired
	}

	s.Answers = append(s.Answers, answer)
	s.CurrentQuestion++

	if !s.Done() {
		return nil, nil
	}

	rows := make([]AnswerRow, len(s.Questions))
	for i, question := range s.Questions {
		rows[i] = AnswerRow{Question: question.Name, Answer: s.Answers[i]}
	}

	return &Completion{
		Requester:        requester,
		Rows:             rows,
		DestinationTable: s.DestinationTable,
		FinalMessage:     s.FinalMessage,
		Timestamp:        time.Now(),
	}, nil
}
