// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package engine turns incoming updates into screen transitions. It owns no
// state of its own: sessions live in nav, rows in the content store, and the
// access verdicts in the gate. Every entry point runs under the user's
// session lock, so double taps serialize instead of racing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/onboardbot/internal/access"
	"github.com/olegiv/onboardbot/internal/cache"
	"github.com/olegiv/onboardbot/internal/directory"
	"github.com/olegiv/onboardbot/internal/form"
	"github.com/olegiv/onboardbot/internal/model"
	"github.com/olegiv/onboardbot/internal/nav"
	"github.com/olegiv/onboardbot/internal/richtext"
	"github.com/olegiv/onboardbot/internal/screen"
	"github.com/olegiv/onboardbot/internal/transport"
)

// User-facing messages. The bot speaks Russian.
const (
	MsgContentUnavailable = "Не удалось загрузить раздел. Попробуйте, пожалуйста, позже."
	MsgOptionRequired     = "Пожалуйста, выберите один из предложенных вариантов."
	MsgUseButtons         = "Пожалуйста, пользуйтесь кнопками меню."
	MsgSharePhone         = "Здравствуйте! Чтобы начать, поделитесь, пожалуйста, своим номером телефона."
	MsgPhoneNotFound      = "Не нашли ваш номер в списке сотрудников. " +
		"Обратитесь, пожалуйста, к администратору."
	MsgAlreadyAtRoot    = "Вы в главном меню"
	MsgChooseSearchMode = "Кого будем искать?"
	MsgEnterName        = "Введите ФИО сотрудника или его часть."
	MsgEnterDept        = "Введите название отдела или выберите из списка."

	MainMenuLabel = "⬅️ В главное меню"
)

// Callback tokens of the directory search-mode prompt.
const (
	tokenSearchByName = "ats_name"
	tokenSearchByDept = "ats_dept"
)

// departmentChoiceLimit caps how many department buttons the search prompt
// offers; the rest stay reachable by typing.
const departmentChoiceLimit = 8

// ContentSource fetches parsed rows of a content table.
type ContentSource interface {
	FetchRows(ctx context.Context, tableID string) ([]model.Row, error)
}

// RawSource fetches raw rows, used for the directory base.
type RawSource interface {
	FetchRawRows(ctx context.Context, tableID string) ([]map[string]any, error)
}

// FormSaver persists a completed form.
type FormSaver interface {
	SaveCompletion(ctx context.Context, done *form.Completion) error
}

// Registrar binds a messenger ID to an employee record by phone number.
type Registrar interface {
	RegisterMessengerID(ctx context.Context, phone string, userID int64) error
}

// Engine routes one user's updates through the navigation model.
type Engine struct {
	sender    transport.Sender
	content   ContentSource
	directory RawSource
	saver     FormSaver
	registrar Registrar
	gate      *access.Gate
	sessions  *nav.Manager
	rows      *cache.Typed[[]model.Row]
	logger    *slog.Logger

	root       model.ScreenID
	renderOpts screen.Options
}

// Options configures an Engine.
type Options struct {
	Sender    transport.Sender
	Content   ContentSource
	Directory RawSource
	Saver     FormSaver
	Registrar Registrar
	Gate      *access.Gate
	Sessions  *nav.Manager

	// RowCache backs the per-table row cache. RowTTL defaults to 5 minutes.
	RowCache cache.Cache
	RowTTL   time.Duration

	// RootTable is the main menu table of the HR base.
	RootTable string
	// DirectoryMarker flags submenu links that open the phone-book lookup.
	DirectoryMarker string

	Logger *slog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RowTTL <= 0 {
		opts.RowTTL = 5 * time.Minute
	}
	return &Engine{
		sender:    opts.Sender,
		content:   opts.Content,
		directory: opts.Directory,
		saver:     opts.Saver,
		registrar: opts.Registrar,
		gate:      opts.Gate,
		sessions:  opts.Sessions,
		rows:      cache.NewTyped[[]model.Row](opts.RowCache, opts.RowTTL),
		logger:    opts.Logger,
		root:      model.MenuScreen(opts.RootTable),
		renderOpts: screen.Options{
			RootTable:       opts.RootTable,
			DirectoryMarker: opts.DirectoryMarker,
		},
	}
}

// HandleStart processes the /start command: a fresh session at the root
// screen, or the phone-sharing prompt for users the store does not know.
func (e *Engine) HandleStart(ctx context.Context, userID int64) error {
	return e.sessions.WithSession(userID, func(sess *nav.Session) error {
		decision, err := e.gate.Authorize(ctx, userID, sess)
		if err != nil {
			return err
		}
		if decision == access.Denied {
			return e.sender.RequestContact(ctx, userID, MsgSharePhone)
		}

		sess.Reset(e.root)
		return e.showScreen(ctx, userID, sess, e.root)
	})
}

// HandleContact processes a shared phone number: the identity verification
// step of an unknown user's first session.
func (e *Engine) HandleContact(ctx context.Context, userID int64, phone string) error {
	return e.sessions.WithSession(userID, func(sess *nav.Session) error {
		err := e.registrar.RegisterMessengerID(ctx, phone, userID)
		if err != nil {
			e.logger.Warn("phone registration failed", "user_id", userID, "error", err)
			return e.send(ctx, userID, richtext.Payload{Text: MsgPhoneNotFound}, nil)
		}

		e.gate.Invalidate(ctx, userID)
		decision, err := e.gate.Authorize(ctx, userID, sess)
		if err != nil {
			return err
		}
		if decision == access.Denied {
			return e.send(ctx, userID, richtext.Payload{Text: access.RestrictingMessage}, nil)
		}

		sess.Reset(e.root)
		return e.showScreen(ctx, userID, sess, e.root)
	})
}

// HandleCallback processes a pressed inline keyboard button.
func (e *Engine) HandleCallback(ctx context.Context, userID int64, callbackID, data string) error {
	if callbackID != "" {
		if err := e.sender.AckCallback(ctx, callbackID); err != nil {
			e.logger.Warn("callback ack failed", "user_id", userID, "error", err)
		}
	}

	return e.sessions.WithSession(userID, func(sess *nav.Session) error {
		decision, err := e.gate.Authorize(ctx, userID, sess)
		if err != nil {
			return err
		}
		switch decision {
		case access.Denied:
			return e.send(ctx, userID, richtext.Payload{Text: access.RestrictingMessage}, nil)
		case access.RoleChanged:
			// The session was reset for the new role; the pressed button
			// belonged to the old menu tree and is not followed.
			return e.showScreen(ctx, userID, sess, sess.Current())
		}

		switch {
		case data == model.TokenBack:
			return e.goBack(ctx, userID, sess)
		case strings.HasPrefix(data, model.TokenFormOptionPrefix):
			token := strings.TrimPrefix(data, model.TokenFormOptionPrefix)
			return e.submitOption(ctx, userID, sess, token)
		case data == tokenSearchByName:
			return e.chooseSearchMode(ctx, userID, sess, directory.EventChooseName, MsgEnterName)
		case data == tokenSearchByDept:
			return e.promptDepartments(ctx, userID, sess)
		case strings.HasPrefix(data, model.TokenDepartmentPrefix):
			query := strings.TrimPrefix(data, model.TokenDepartmentPrefix)
			return e.runSearch(ctx, userID, sess, directory.SearchByDepartment, query)
		}

		id, err := model.ParseScreenID(data)
		if err != nil {
			e.logger.Warn("unknown callback token", "user_id", userID, "token", data)
			return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
		}
		return e.navigate(ctx, userID, sess, id)
	})
}

// HandleText processes a typed message. Free text only means something
// inside a live form or directory lookup.
func (e *Engine) HandleText(ctx context.Context, userID int64, text string) error {
	return e.sessions.WithSession(userID, func(sess *nav.Session) error {
		decision, err := e.gate.Authorize(ctx, userID, sess)
		if err != nil {
			return err
		}
		switch decision {
		case access.Denied:
			return e.send(ctx, userID, richtext.Payload{Text: access.RestrictingMessage}, nil)
		case access.RoleChanged:
			return e.showScreen(ctx, userID, sess, sess.Current())
		}

		if sess.Form != nil {
			return e.submitAnswer(ctx, userID, sess, text, false)
		}

		if sess.Lookup != nil {
			switch sess.Lookup.State() {
			case directory.StateAwaitingName:
				return e.runSearch(ctx, userID, sess, directory.SearchByName, text)
			case directory.StateAwaitingDept:
				return e.runSearch(ctx, userID, sess, directory.SearchByDepartment, text)
			case directory.StateChoosingMode:
				return e.sendSearchModePrompt(ctx, userID)
			}
		}

		return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
	})
}

// navigate follows a screen token: descend into a menu, a form, a leaf
// content row, or the directory lookup. A screen that cannot be loaded is
// reported without touching the history.
func (e *Engine) navigate(ctx context.Context, userID int64, sess *nav.Session, id model.ScreenID) error {
	if id.Kind == model.ScreenDirectory {
		return e.openDirectory(ctx, userID, sess, id)
	}

	// The main menu button after a form resets the walk instead of
	// growing the history without bound.
	if id == e.root {
		sess.Reset(e.root)
		return e.showScreen(ctx, userID, sess, e.root)
	}

	rows, err := e.tableRows(ctx, id.Table)
	if err != nil {
		e.logger.Error("loading screen failed", "user_id", userID, "table", id.Table, "error", err)
		return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
	}

	if id.IsContent() {
		payload, choices, found := screen.RenderContent(rows, id.Row)
		if !found {
			e.logger.Warn("content row missing", "user_id", userID, "table", id.Table, "row", id.Row)
			return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
		}
		sess.Enter(id)
		return e.send(ctx, userID, payload, choices)
	}

	if screen.Classify(rows) == screen.KindForm {
		state, err := form.Start(rows)
		if err != nil || state.Done() {
			e.logger.Error("form table unusable", "user_id", userID, "table", id.Table, "error", err)
			return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
		}
		sess.Enter(id)
		sess.Form = state
		return e.askCurrentQuestion(ctx, userID, sess)
	}

	sess.Enter(id)
	payload, choices := screen.Render(rows, id, e.renderOpts)
	return e.send(ctx, userID, payload, choices)
}

// goBack pops one history entry. Leaving a leaf content screen first
// re-posts that content, so the user still sees what they were reading
// above the restored menu. At the root nothing changes: a short notice
// goes out and the menu on screen stays as is.
func (e *Engine) goBack(ctx context.Context, userID int64, sess *nav.Session) error {
	left := sess.Current()

	dest, ok := sess.Back()
	if !ok {
		return e.send(ctx, userID, richtext.Payload{Text: MsgAlreadyAtRoot}, nil)
	}

	if left.IsContent() {
		if rows, err := e.tableRows(ctx, left.Table); err == nil {
			if payload, _, found := screen.RenderContent(rows, left.Row); found {
				if err := e.send(ctx, userID, payload, nil); err != nil {
					return err
				}
			}
		}
	}

	return e.showScreen(ctx, userID, sess, dest)
}

// showScreen renders an already-entered screen without history changes.
func (e *Engine) showScreen(ctx context.Context, userID int64, sess *nav.Session, id model.ScreenID) error {
	if id.Kind == model.ScreenDirectory {
		sess.Lookup = directory.NewDialog(id.Table)
		_ = sess.Lookup.Fire(directory.EventOpen)
		return e.sendSearchModePrompt(ctx, userID)
	}

	rows, err := e.tableRows(ctx, id.Table)
	if err != nil {
		e.logger.Error("loading screen failed", "user_id", userID, "table", id.Table, "error", err)
		return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
	}

	if id.IsContent() {
		payload, choices, found := screen.RenderContent(rows, id.Row)
		if !found {
			return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
		}
		return e.send(ctx, userID, payload, choices)
	}

	payload, choices := screen.Render(rows, id, e.renderOpts)
	return e.send(ctx, userID, payload, choices)
}

// submitOption resolves an option-button press against the live question.
// Buttons carry the option's index rather than its text: callback data is
// capped at 64 bytes, and a shortened answer would no longer be the exact
// offered option.
func (e *Engine) submitOption(ctx context.Context, userID int64, sess *nav.Session, token string) error {
	if sess.Form == nil {
		return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
	}

	q, err := sess.Form.Current()
	if err != nil {
		sess.Form = nil
		return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
	}

	i, err := strconv.Atoi(token)
	if err != nil || i < 0 || i >= len(q.Options) {
		e.logger.Warn("stale option token", "user_id", userID, "token", token)
		return e.askCurrentQuestion(ctx, userID, sess)
	}
	return e.submitAnswer(ctx, userID, sess, q.Options[i], true)
}

// submitAnswer advances the live form by one answer.
func (e *Engine) submitAnswer(ctx context.Context, userID int64, sess *nav.Session, answer string, fromOption bool) error {
	if sess.Form == nil {
		return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
	}

	requester := fmt.Sprintf("%d", userID)
	done, err := sess.Form.Submit(requester, answer, fromOption)
	if errors.Is(err, form.ErrOptionRequired) {
		if sendErr := e.send(ctx, userID, richtext.Payload{Text: MsgOptionRequired}, nil); sendErr != nil {
			return sendErr
		}
		return e.askCurrentQuestion(ctx, userID, sess)
	}
	if err != nil {
		e.logger.Error("form state broken", "user_id", userID, "error", err)
		sess.Form = nil
		return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
	}

	if done == nil {
		return e.askCurrentQuestion(ctx, userID, sess)
	}

	sess.Form = nil
	final := done.FinalMessage
	if err := e.saver.SaveCompletion(ctx, done); err != nil {
		// The user already answered everything; losing the thank-you screen
		// on top of the lost submission would only make it worse.
		e.logger.Error("form submission failed", "user_id", userID,
			"table", done.DestinationTable, "error", err)
		final = "К сожалению, не удалось сохранить ваши ответы. Попробуйте позже."
	}

	choices := []screen.Choice{{
		Kind:   screen.ChoiceDescend,
		Label:  MainMenuLabel,
		Target: e.root.String(),
	}}
	return e.send(ctx, userID, richtext.Prepare(final), choices)
}

// askCurrentQuestion posts the form's pending question with its options.
func (e *Engine) askCurrentQuestion(ctx context.Context, userID int64, sess *nav.Session) error {
	q, err := sess.Form.Current()
	if err != nil {
		sess.Form = nil
		return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
	}

	choices := make([]screen.Choice, 0, len(q.Options))
	for i, opt := range q.Options {
		choices = append(choices, screen.Choice{
			Kind:   screen.ChoiceOption,
			Label:  opt,
			Target: model.TokenFormOptionPrefix + strconv.Itoa(i),
		})
	}
	return e.send(ctx, userID, richtext.Payload{Text: q.Text}, choices)
}

// openDirectory enters the phone-book lookup submenu.
func (e *Engine) openDirectory(ctx context.Context, userID int64, sess *nav.Session, id model.ScreenID) error {
	sess.Enter(id)
	sess.Lookup = directory.NewDialog(id.Table)
	_ = sess.Lookup.Fire(directory.EventOpen)
	return e.sendSearchModePrompt(ctx, userID)
}

func (e *Engine) sendSearchModePrompt(ctx context.Context, userID int64) error {
	choices := []screen.Choice{
		{Kind: screen.ChoiceOption, Label: directory.LabelSearchByName, Target: tokenSearchByName},
		{Kind: screen.ChoiceOption, Label: directory.LabelSearchByDept, Target: tokenSearchByDept},
		screen.BackChoice(),
	}
	return e.send(ctx, userID, richtext.Payload{Text: MsgChooseSearchMode}, choices)
}

func (e *Engine) chooseSearchMode(ctx context.Context, userID int64, sess *nav.Session, event, prompt string) error {
	if sess.Lookup == nil {
		return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
	}
	if err := sess.Lookup.Fire(event); err != nil {
		return e.sendSearchModePrompt(ctx, userID)
	}
	return e.send(ctx, userID, richtext.Payload{Text: prompt}, []screen.Choice{screen.BackChoice()})
}

// promptDepartments switches to department search and offers the known
// departments as buttons.
func (e *Engine) promptDepartments(ctx context.Context, userID int64, sess *nav.Session) error {
	if sess.Lookup == nil {
		return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
	}
	if err := sess.Lookup.Fire(directory.EventChooseDept); err != nil {
		return e.sendSearchModePrompt(ctx, userID)
	}

	choices := []screen.Choice{}
	if raw, err := e.directory.FetchRawRows(ctx, sess.Lookup.Table); err == nil {
		for _, dept := range departments(directory.ParseEmployees(raw)) {
			if len(choices) == departmentChoiceLimit {
				break
			}
			choices = append(choices, screen.Choice{
				Kind:   screen.ChoiceOption,
				Label:  dept,
				Target: model.TokenDepartmentPrefix + dept,
			})
		}
	}
	choices = append(choices, screen.BackChoice())
	return e.send(ctx, userID, richtext.Payload{Text: MsgEnterDept}, choices)
}

// runSearch executes a directory query and closes the lookup conversation.
func (e *Engine) runSearch(ctx context.Context, userID int64, sess *nav.Session,
	match func([]directory.Employee, string) []directory.Employee, query string) error {

	if sess.Lookup == nil {
		return e.send(ctx, userID, richtext.Payload{Text: MsgUseButtons}, nil)
	}
	table := sess.Lookup.Table
	_ = sess.Lookup.Fire(directory.EventQuery)

	raw, err := e.directory.FetchRawRows(ctx, table)
	if err != nil {
		e.logger.Error("directory fetch failed", "user_id", userID, "table", table, "error", err)
		return e.send(ctx, userID, richtext.Payload{Text: MsgContentUnavailable}, nil)
	}

	results := match(directory.ParseEmployees(raw), query)
	text := directory.FormatResults(results)
	return e.send(ctx, userID, richtext.Payload{Text: text}, []screen.Choice{screen.BackChoice()})
}

// tableRows loads a table through the row cache.
func (e *Engine) tableRows(ctx context.Context, tableID string) ([]model.Row, error) {
	rows, err := e.rows.GetOrSet(ctx, "rows:"+tableID, func() (*[]model.Row, error) {
		fetched, err := e.content.FetchRows(ctx, tableID)
		if err != nil {
			return nil, err
		}
		return &fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return *rows, nil
}

func (e *Engine) send(ctx context.Context, userID int64, payload richtext.Payload, choices []screen.Choice) error {
	return e.sender.Send(ctx, userID, payload, choices)
}

// departments returns the distinct department names in first-seen order.
func departments(employees []directory.Employee) []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range employees {
		d := strings.TrimSpace(e.Department)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		names = append(names, d)
	}
	return names
}
