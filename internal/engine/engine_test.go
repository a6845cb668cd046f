package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/olegiv/onboardbot/internal/access"
	"github.com/olegiv/onboardbot/internal/cache"
	"github.com/olegiv/onboardbot/internal/form"
	"github.com/olegiv/onboardbot/internal/model"
	"github.com/olegiv/onboardbot/internal/nav"
	"github.com/olegiv/onboardbot/internal/richtext"
	"github.com/olegiv/onboardbot/internal/screen"
)

const (
	rootTable = "ROOT"
	dirMarker = "phonebook.example"
)

type sentMessage struct {
	payload richtext.Payload
	choices []screen.Choice
}

type fakeSender struct {
	sent     []sentMessage
	contacts []string
	acks     []string
	fail     bool
}

func (s *fakeSender) Send(_ context.Context, _ int64, payload richtext.Payload, choices []screen.Choice) error {
	if s.fail {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, sentMessage{payload: payload, choices: choices})
	return nil
}

func (s *fakeSender) RequestContact(_ context.Context, _ int64, text string) error {
	s.contacts = append(s.contacts, text)
	return nil
}

func (s *fakeSender) AckCallback(_ context.Context, id string) error {
	s.acks = append(s.acks, id)
	return nil
}

func (s *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	if len(s.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return s.sent[len(s.sent)-1]
}

type fakeContent struct {
	tables map[string][]model.Row
	broken map[string]bool
}

func (c *fakeContent) FetchRows(_ context.Context, tableID string) ([]model.Row, error) {
	if c.broken[tableID] {
		return nil, errors.New("table unreachable")
	}
	rows, ok := c.tables[tableID]
	if !ok {
		return nil, errors.New("no such table")
	}
	return rows, nil
}

type fakeRaw struct {
	rows []map[string]any
	err  error
}

func (r *fakeRaw) FetchRawRows(context.Context, string) ([]map[string]any, error) {
	return r.rows, r.err
}

type fakeSaver struct {
	saved []*form.Completion
	fail  bool
}

func (s *fakeSaver) SaveCompletion(_ context.Context, done *form.Completion) error {
	if s.fail {
		return errors.New("seatable down")
	}
	s.saved = append(s.saved, done)
	return nil
}

type fakeRegistrar struct {
	phones map[string]bool
	bound  []int64
}

func (r *fakeRegistrar) RegisterMessengerID(_ context.Context, phone string, userID int64) error {
	if !r.phones[phone] {
		return errors.New("user not found")
	}
	r.bound = append(r.bound, userID)
	return nil
}

type fakeLookup struct {
	allowed map[int64]bool
	roles   map[int64]model.Role
}

func (l *fakeLookup) IsAccessAllowed(_ context.Context, userID int64) (bool, error) {
	return l.allowed[userID], nil
}

func (l *fakeLookup) GetRole(_ context.Context, userID int64) (model.Role, error) {
	return l.roles[userID], nil
}

func boolPtr(b bool) *bool { return &b }

func contentTables() map[string][]model.Row {
	return map[string][]model.Row{
		rootTable: {
			{ID: "i", Name: "Info", Content: "Главное меню"},
			{ID: "r1", Name: "Отпуска", SubmenuLink: "https://hr.example/?tid=T2"},
			{ID: "r2", Name: "Обратная связь", SubmenuLink: "https://hr.example/?tid=TF"},
			{ID: "r3", Name: "Справочник", SubmenuLink: "https://" + dirMarker + "/?tid=TD"},
			{ID: "r4", Name: "Сломанный раздел", SubmenuLink: "https://hr.example/?tid=TBROKEN"},
		},
		"T2": {
			{ID: "i", Name: "Info", Content: "Всё про отпуска"},
			{ID: "c1", Name: "Как оформить", ButtonContent: "Заявление подаётся за две недели."},
		},
		"TF": {
			{ID: "i", Name: "Info", AnswersTable: "https://hr.example/?tid=TANS"},
			{ID: "q1", Name: "Всё ли понравилось?", AnswerOptions: []string{"Да", "Нет"}},
			{ID: "q2", Name: "Что улучшить?", FreeInput: boolPtr(true)},
			{ID: "f", Name: "Final_message", Content: "Спасибо за ответы!"},
		},
	}
}

type fixture struct {
	engine  *Engine
	sender  *fakeSender
	content *fakeContent
	saver   *fakeSaver
	lookup  *fakeLookup
	gate    *access.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sender := &fakeSender{}
	content := &fakeContent{tables: contentTables(), broken: map[string]bool{"TBROKEN": true}}
	saver := &fakeSaver{}
	lookup := &fakeLookup{
		allowed: map[int64]bool{42: true},
		roles:   map[int64]model.Role{42: model.RoleEmployee},
	}

	root := model.MenuScreen(rootTable)
	gate := access.New(access.Options{
		Lookup:  lookup,
		Backend: cache.NewWithTTL(time.Hour, 100),
		Root:    root,
	})
	sessions := nav.NewManager(nav.ManagerOptions{Root: root})
	t.Cleanup(sessions.Stop)

	raw := &fakeRaw{rows: []map[string]any{
		{"Name/Department": "Иванов Иван", "Department": "Бухгалтерия", "Number": "1001"},
		{"Name/Department": "Петрова Анна", "Department": "ИТ", "Number": "1002"},
	}}
	registrar := &fakeRegistrar{phones: map[string]bool{"+79815550011": true}}

	eng := New(Options{
		Sender:          sender,
		Content:         content,
		Directory:       raw,
		Saver:           saver,
		Registrar:       registrar,
		Gate:            gate,
		Sessions:        sessions,
		RowCache:        cache.NewWithTTL(time.Minute, 100),
		RootTable:       rootTable,
		DirectoryMarker: dirMarker,
	})
	return &fixture{engine: eng, sender: sender, content: content, saver: saver, lookup: lookup, gate: gate}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.engine.HandleStart(context.Background(), 42); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
}

func (f *fixture) press(t *testing.T, data string) {
	t.Helper()
	if err := f.engine.HandleCallback(context.Background(), 42, "cb", data); err != nil {
		t.Fatalf("HandleCallback(%q): %v", data, err)
	}
}

func (f *fixture) typeText(t *testing.T, text string) {
	t.Helper()
	if err := f.engine.HandleText(context.Background(), 42, text); err != nil {
		t.Fatalf("HandleText(%q): %v", text, err)
	}
}

func TestStartRendersRootMenu(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	msg := f.sender.last(t)
	if !strings.Contains(msg.payload.Text, "Главное меню") {
		t.Errorf("expected root header, got %q", msg.payload.Text)
	}
	for _, c := range msg.choices {
		if c.Kind == screen.ChoiceBack {
			t.Error("root menu must not offer back")
		}
	}
	if len(msg.choices) != 4 {
		t.Errorf("expected 4 choices, got %d", len(msg.choices))
	}
}

func TestStartUnknownUserAsksForPhone(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.HandleStart(context.Background(), 99); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	if len(f.sender.contacts) != 1 || f.sender.contacts[0] != MsgSharePhone {
		t.Errorf("expected contact request, got %v", f.sender.contacts)
	}
	if len(f.sender.sent) != 0 {
		t.Error("no screen should be sent to an unknown user")
	}
}

func TestContactRegistration(t *testing.T) {
	f := newFixture(t)

	// Phone matches an employee row; the lookup learns about the user
	// right after registration.
	f.lookup.allowed[99] = true
	f.lookup.roles[99] = model.RoleNewcomer
	if err := f.engine.HandleContact(context.Background(), 99, "+79815550011"); err != nil {
		t.Fatalf("HandleContact: %v", err)
	}
	if !strings.Contains(f.sender.last(t).payload.Text, "Главное меню") {
		t.Errorf("expected root menu after registration, got %q", f.sender.last(t).payload.Text)
	}
}

func TestContactRegistrationUnknownPhone(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.HandleContact(context.Background(), 99, "+70000000000"); err != nil {
		t.Fatalf("HandleContact: %v", err)
	}
	if f.sender.last(t).payload.Text != MsgPhoneNotFound {
		t.Errorf("expected phone-not-found notice, got %q", f.sender.last(t).payload.Text)
	}
}

func TestDescendAndBack(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.press(t, "menu:T2")
	msg := f.sender.last(t)
	if !strings.Contains(msg.payload.Text, "отпуска") {
		t.Errorf("expected submenu header, got %q", msg.payload.Text)
	}
	hasBack := false
	for _, c := range msg.choices {
		if c.Kind == screen.ChoiceBack {
			hasBack = true
		}
	}
	if !hasBack {
		t.Error("nested menu must offer back")
	}

	f.press(t, "back")
	if !strings.Contains(f.sender.last(t).payload.Text, "Главное меню") {
		t.Errorf("expected root menu after back, got %q", f.sender.last(t).payload.Text)
	}
}

func TestBackAtRootStaysAtRoot(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	before := len(f.sender.sent)
	f.press(t, "back")
	if len(f.sender.sent) != before+1 {
		t.Fatalf("expected exactly one message, got %d", len(f.sender.sent)-before)
	}
	notice := f.sender.last(t)
	if notice.payload.Text != MsgAlreadyAtRoot {
		t.Errorf("expected at-root notice, got %q", notice.payload.Text)
	}
	if notice.choices != nil {
		t.Errorf("the notice must not re-render the menu, got %+v", notice.choices)
	}
}

func TestBackFromContentRepostsIt(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "menu:T2")
	f.press(t, "content:T2:c1")

	if !strings.Contains(f.sender.last(t).payload.Text, "две недели") {
		t.Fatalf("expected leaf content, got %q", f.sender.last(t).payload.Text)
	}

	before := len(f.sender.sent)
	f.press(t, "back")
	if len(f.sender.sent) != before+2 {
		t.Fatalf("expected content re-post plus menu, got %d messages", len(f.sender.sent)-before)
	}
	repost := f.sender.sent[before]
	if !strings.Contains(repost.payload.Text, "две недели") || repost.choices != nil {
		t.Errorf("expected bare content re-post, got %+v", repost)
	}
	if !strings.Contains(f.sender.last(t).payload.Text, "отпуска") {
		t.Errorf("expected the menu above the content, got %q", f.sender.last(t).payload.Text)
	}
}

func TestUnavailableScreenDoesNotPushHistory(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.press(t, "menu:TBROKEN")
	if f.sender.last(t).payload.Text != MsgContentUnavailable {
		t.Fatalf("expected unavailable notice, got %q", f.sender.last(t).payload.Text)
	}

	// Still at the root: back reports being at the top instead of popping.
	f.press(t, "back")
	if f.sender.last(t).payload.Text != MsgAlreadyAtRoot {
		t.Errorf("expected at-root notice after failed descend, got %q", f.sender.last(t).payload.Text)
	}
}

func TestFormRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.press(t, "menu:TF")
	q1 := f.sender.last(t)
	if q1.payload.Text != "Всё ли понравилось?" {
		t.Fatalf("expected first question, got %q", q1.payload.Text)
	}
	if len(q1.choices) != 2 || q1.choices[0].Label != "Да" || q1.choices[0].Target != "form_opt:0" {
		t.Fatalf("expected indexed option choices, got %+v", q1.choices)
	}

	f.press(t, "form_opt:0")
	if f.sender.last(t).payload.Text != "Что улучшить?" {
		t.Fatalf("expected second question, got %q", f.sender.last(t).payload.Text)
	}

	f.typeText(t, "Больше кофе")
	final := f.sender.last(t)
	if !strings.Contains(final.payload.Text, "Спасибо") {
		t.Errorf("expected final message, got %q", final.payload.Text)
	}
	if len(final.choices) != 1 || final.choices[0].Label != MainMenuLabel {
		t.Errorf("expected main menu choice, got %+v", final.choices)
	}

	if len(f.saver.saved) != 1 {
		t.Fatalf("expected one saved completion, got %d", len(f.saver.saved))
	}
	done := f.saver.saved[0]
	if done.DestinationTable != "TANS" || done.Requester != "42" {
		t.Errorf("unexpected completion: %+v", done)
	}
	if len(done.Rows) != 2 || done.Rows[0].Answer != "Да" || done.Rows[1].Answer != "Больше кофе" {
		t.Errorf("unexpected answers: %+v", done.Rows)
	}

	// The main menu button resets the walk.
	f.press(t, "menu:"+rootTable)
	if !strings.Contains(f.sender.last(t).payload.Text, "Главное меню") {
		t.Errorf("expected root menu, got %q", f.sender.last(t).payload.Text)
	}
}

func TestFormRejectsFreeTextOnOptionQuestion(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "menu:TF")

	f.typeText(t, "произвольный ответ")
	if len(f.sender.sent) < 2 {
		t.Fatal("expected rejection and re-prompt")
	}
	rejection := f.sender.sent[len(f.sender.sent)-2]
	if rejection.payload.Text != MsgOptionRequired {
		t.Errorf("expected option-required notice, got %q", rejection.payload.Text)
	}
	if f.sender.last(t).payload.Text != "Всё ли понравилось?" {
		t.Errorf("expected the question re-asked, got %q", f.sender.last(t).payload.Text)
	}
}

func TestFormOptionLongerThanCallbackLimit(t *testing.T) {
	f := newFixture(t)

	// The option text is far over the 64-byte callback data cap. The
	// button carries an index, so the stored answer is still the full
	// offered text.
	long := "Да, всё понравилось, особенно экскурсия по офису и знакомство с командой"
	f.content.tables["TL"] = []model.Row{
		{ID: "i", Name: "Info", AnswersTable: "https://hr.example/?tid=TANS"},
		{ID: "q1", Name: "Как прошёл первый день?", AnswerOptions: []string{long}},
	}
	f.content.tables[rootTable] = append(f.content.tables[rootTable],
		model.Row{ID: "r5", Name: "Первый день", SubmenuLink: "https://hr.example/?tid=TL"})

	f.start(t)
	f.press(t, "menu:TL")
	q := f.sender.last(t)
	if len(q.choices) != 1 || q.choices[0].Target != "form_opt:0" {
		t.Fatalf("expected one indexed option, got %+v", q.choices)
	}

	f.press(t, "form_opt:0")
	if len(f.saver.saved) != 1 {
		t.Fatalf("expected one saved completion, got %d", len(f.saver.saved))
	}
	if got := f.saver.saved[0].Rows[0].Answer; got != long {
		t.Errorf("expected the full option text stored, got %q", got)
	}
}

func TestFormStaleOptionTokenReasksQuestion(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "menu:TF")

	// Out-of-range and non-numeric tokens re-ask instead of recording
	// anything.
	for _, token := range []string{"form_opt:5", "form_opt:Да"} {
		f.press(t, token)
		if f.sender.last(t).payload.Text != "Всё ли понравилось?" {
			t.Errorf("token %q: expected the question re-asked, got %q", token, f.sender.last(t).payload.Text)
		}
	}
	if len(f.saver.saved) != 0 {
		t.Error("no completion must be saved from stale tokens")
	}
}

func TestFormSaveFailureStillFinishes(t *testing.T) {
	f := newFixture(t)
	f.saver.fail = true
	f.start(t)
	f.press(t, "menu:TF")
	f.press(t, "form_opt:1")
	f.typeText(t, "Ничего")

	final := f.sender.last(t)
	if !strings.Contains(final.payload.Text, "не удалось сохранить") {
		t.Errorf("expected save-failure notice, got %q", final.payload.Text)
	}
	if len(final.choices) != 1 || final.choices[0].Label != MainMenuLabel {
		t.Errorf("expected main menu choice even on failure, got %+v", final.choices)
	}
}

func TestFormAbandonedByNavigation(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "menu:TF")
	f.press(t, "back")

	// The form is gone; free text is no longer an answer.
	f.typeText(t, "Да")
	if f.sender.last(t).payload.Text != MsgUseButtons {
		t.Errorf("expected buttons hint after abandonment, got %q", f.sender.last(t).payload.Text)
	}
	if len(f.saver.saved) != 0 {
		t.Error("abandoned form must not be saved")
	}
}

func TestDirectorySearchByName(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.press(t, "ats:TD")
	prompt := f.sender.last(t)
	if prompt.payload.Text != MsgChooseSearchMode {
		t.Fatalf("expected mode prompt, got %q", prompt.payload.Text)
	}

	f.press(t, tokenSearchByName)
	if f.sender.last(t).payload.Text != MsgEnterName {
		t.Fatalf("expected name prompt, got %q", f.sender.last(t).payload.Text)
	}

	f.typeText(t, "Иванов")
	result := f.sender.last(t)
	if !strings.Contains(result.payload.Text, "Иванов Иван") {
		t.Errorf("expected the match, got %q", result.payload.Text)
	}
	if strings.Contains(result.payload.Text, "Петрова") {
		t.Errorf("unexpected extra match: %q", result.payload.Text)
	}
}

func TestDirectoryDepartmentButtons(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "ats:TD")

	f.press(t, tokenSearchByDept)
	prompt := f.sender.last(t)
	if prompt.payload.Text != MsgEnterDept {
		t.Fatalf("expected department prompt, got %q", prompt.payload.Text)
	}
	// Two departments plus back.
	if len(prompt.choices) != 3 {
		t.Fatalf("expected department buttons, got %+v", prompt.choices)
	}

	f.press(t, "department:ИТ")
	result := f.sender.last(t)
	if !strings.Contains(result.payload.Text, "Петрова") {
		t.Errorf("expected IT department match, got %q", result.payload.Text)
	}
}

func TestDirectoryNoMatches(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "ats:TD")
	f.press(t, tokenSearchByName)
	f.typeText(t, "Сидоров")

	if !strings.Contains(f.sender.last(t).payload.Text, "Никого не нашлось") {
		t.Errorf("expected not-found notice, got %q", f.sender.last(t).payload.Text)
	}
}

func TestAccessRevokedMidSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.lookup.allowed[42] = false
	f.gate.Invalidate(context.Background(), 42)

	f.press(t, "menu:T2")
	if f.sender.last(t).payload.Text != access.RestrictingMessage {
		t.Errorf("expected restricting message, got %q", f.sender.last(t).payload.Text)
	}
}

func TestRoleChangeSuppressesAction(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "menu:T2")

	f.lookup.roles[42] = model.RoleNewcomer
	f.gate.Invalidate(context.Background(), 42)

	// The press targeted leaf content, but the role changed underneath:
	// the session resets and the root is shown instead.
	f.press(t, "content:T2:c1")
	if !strings.Contains(f.sender.last(t).payload.Text, "Главное меню") {
		t.Errorf("expected root after role change, got %q", f.sender.last(t).payload.Text)
	}

	// The next action proceeds normally under the new role.
	f.press(t, "menu:T2")
	if !strings.Contains(f.sender.last(t).payload.Text, "отпуска") {
		t.Errorf("expected navigation to resume, got %q", f.sender.last(t).payload.Text)
	}
}

func TestCallbackAcked(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.press(t, "menu:T2")

	if len(f.sender.acks) != 1 || f.sender.acks[0] != "cb" {
		t.Errorf("expected callback ack, got %v", f.sender.acks)
	}
}
