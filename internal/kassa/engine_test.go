package kassa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type scheduleUpdate struct {
	Operator string
	Page     string
	Day      int
	Status   string
}

type fakeStore struct {
	mu sync.Mutex

	operators  map[string]Operator
	resolveErr error

	cashEntries []CashEntry
	cashErr     error

	scheduleRows map[string]bool
	scheduleErr  error
	updates      []scheduleUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		operators:    map[string]Operator{},
		scheduleRows: map[string]bool{},
	}
}

func (f *fakeStore) ResolveOperator(_ context.Context, telegramID string) (Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return Operator{}, f.resolveErr
	}
	op, ok := f.operators[telegramID]
	if !ok {
		return Operator{}, ErrUnauthorized
	}
	return op, nil
}

func (f *fakeStore) SubmitCashEntry(_ context.Context, entry CashEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cashErr != nil {
		return f.cashErr
	}
	f.cashEntries = append(f.cashEntries, entry)
	return nil
}

func (f *fakeStore) UpdateScheduleDay(_ context.Context, operatorName, page string, day int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	if !f.scheduleRows[operatorName+"|"+page] {
		return ErrNotFound
	}
	f.updates = append(f.updates, scheduleUpdate{Operator: operatorName, Page: page, Day: day, Status: status})
	return nil
}

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store *fakeStore) *Engine {
	t.Helper()

	e := NewEngine(store)
	e.Now = func() time.Time { return testNow }
	return e
}

func testOperator() Operator {
	return Operator{TelegramID: "42", Name: "A", Manager: "M", Pages: []string{"P1", "P2"}}
}

func send(t *testing.T, e *Engine, input string) []Prompt {
	t.Helper()

	prompts := e.Handle(context.Background(), Event{UserID: 42, Input: input})
	if len(prompts) == 0 {
		t.Fatalf("no prompts for input %q", input)
	}
	return prompts
}

func sendExpect(t *testing.T, e *Engine, input, wantSubstr string) {
	t.Helper()

	prompts := send(t, e, input)
	if !strings.Contains(prompts[0].Text, wantSubstr) {
		t.Fatalf("input %q: reply %q does not contain %q", input, prompts[0].Text, wantSubstr)
	}
}

func sessionSnapshot(e *Engine, userID int64) *Session {
	var out *Session
	e.Sessions.Update(userID, func(s *Session) *Session {
		if s != nil {
			clone := *s
			out = &clone
		}
		return s
	})
	return out
}

func startAuthorized(t *testing.T, store *fakeStore) *Engine {
	t.Helper()

	store.operators["42"] = testOperator()
	e := newTestEngine(t, store)
	sendExpect(t, e, "/start", "Привет, A!")
	return e
}

func reachAmountEntry(t *testing.T, e *Engine) {
	t.Helper()

	sendExpect(t, e, "📝 Записать кассу", "Выберите страницу")
	sendExpect(t, e, "page:P1", "Выберите смену")
	sendExpect(t, e, "shift:08-16", "Выберите тип")
	sendExpect(t, e, "type:cash", "Введите сумму")
}

func TestStartUnauthorized(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := newTestEngine(t, store)

	sendExpect(t, e, "/start", msgUnauthorized)
	if s := sessionSnapshot(e, 42); s != nil {
		t.Fatalf("session created for unauthorized user: %+v", s)
	}
	sendExpect(t, e, "📝 Записать кассу", msgStartRequired)
	if len(store.cashEntries) != 0 || len(store.updates) != 0 {
		t.Fatalf("unexpected store writes")
	}
}

func TestStartCreatesMenuSession(t *testing.T) {
	t.Parallel()

	e := startAuthorized(t, newFakeStore())
	s := sessionSnapshot(e, 42)
	if s == nil {
		t.Fatalf("no session after /start")
	}
	if s.State != StateMenu {
		t.Fatalf("state mismatch: got=%s want=%s", s.State, StateMenu)
	}
	if s.Operator.Name != "A" || len(s.Operator.Pages) != 2 {
		t.Fatalf("operator not loaded into session: %+v", s.Operator)
	}
}

func TestCashFlowHappyPath(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "1500", "число месяца")
	sendExpect(t, e, "16", msgCashSaved)

	if len(store.cashEntries) != 1 {
		t.Fatalf("cash entry count mismatch: got=%d want=1", len(store.cashEntries))
	}
	entry := store.cashEntries[0]
	if entry.Operator != "A" || entry.Manager != "M" || entry.Page != "P1" {
		t.Fatalf("identity fields mismatch: %+v", entry)
	}
	if entry.Shift != "08-16" || entry.Type != OpCash {
		t.Fatalf("shift/type mismatch: %+v", entry)
	}
	if !entry.Amount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("amount mismatch: got=%s want=1500", entry.Amount)
	}
	if entry.Date.Day() != 16 || entry.Date.Month() != time.March || entry.Date.Year() != 2026 {
		t.Fatalf("date mismatch: got=%s", entry.Date)
	}

	s := sessionSnapshot(e, 42)
	if s == nil || s.State != StateMenu {
		t.Fatalf("session not back at menu: %+v", s)
	}
	if s.Page != "" || s.Shift != "" || s.Type != "" || !s.Amount.IsZero() {
		t.Fatalf("context not cleared after completion: %+v", s)
	}
}

func TestCashFlowTodayShortcut(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "1000,50", "число месяца")
	sendExpect(t, e, "today", msgCashSaved)

	if len(store.cashEntries) != 1 {
		t.Fatalf("cash entry count mismatch: got=%d want=1", len(store.cashEntries))
	}
	entry := store.cashEntries[0]
	if entry.Date.Day() != testNow.Day() {
		t.Fatalf("today shortcut day mismatch: got=%d want=%d", entry.Date.Day(), testNow.Day())
	}
	if !entry.Amount.Equal(decimal.RequireFromString("1000.5")) {
		t.Fatalf("amount mismatch: got=%s want=1000.5", entry.Amount)
	}
}

func TestInvalidAmountKeepsState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)

	sendExpect(t, e, "abc", msgBadAmount)
	sendExpect(t, e, "-5", msgBadAmount)

	s := sessionSnapshot(e, 42)
	if s.State != StateAmountEntry {
		t.Fatalf("state changed on invalid amount: got=%s", s.State)
	}
	if s.Page != "P1" || s.Shift != "08-16" || s.Type != OpCash {
		t.Fatalf("collected fields lost on invalid amount: %+v", s)
	}

	sendExpect(t, e, "1000.50", "число месяца")
}

func TestInvalidDayKeepsState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "1500", "число месяца")

	for _, bad := range []string{"0", "32", "abc"} {
		sendExpect(t, e, bad, msgBadDay)
	}
	if len(store.cashEntries) != 0 {
		t.Fatalf("cash entry written on invalid day")
	}
	sendExpect(t, e, "31", msgCashSaved)
	if len(store.cashEntries) != 1 || store.cashEntries[0].Date.Day() != 31 {
		t.Fatalf("boundary day 31 not accepted: %+v", store.cashEntries)
	}
}

func TestOutOfSetSelectionRePrompts(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	sendExpect(t, e, "📝 Записать кассу", "Выберите страницу")

	prompts := send(t, e, "page:P9")
	if prompts[0].Text != msgPickOffered {
		t.Fatalf("expected rejection message, got %q", prompts[0].Text)
	}
	if len(prompts) != 2 || !strings.Contains(prompts[1].Text, "Выберите страницу") {
		t.Fatalf("expected same-state re-prompt, got %+v", prompts)
	}
	if s := sessionSnapshot(e, 42); s.State != StatePageSelect || s.Page != "" {
		t.Fatalf("state or fields changed on rejected selection: %+v", s)
	}
}

func TestCancelClearsContextWithoutWrite(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "1500", "число месяца")

	sendExpect(t, e, "cancel", msgCancelled)

	if len(store.cashEntries) != 0 {
		t.Fatalf("cancel still wrote a record")
	}
	s := sessionSnapshot(e, 42)
	if s.State != StateMenu || s.Page != "" || !s.Amount.IsZero() {
		t.Fatalf("cancel did not clear context: %+v", s)
	}

	// The flow restarts cleanly afterwards.
	reachAmountEntry(t, e)
}

func TestCancelCommandMidFlow(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	sendExpect(t, e, "📅 График смен", "Выберите страницу для графика")
	sendExpect(t, e, "/cancel", msgCancelled)
	if s := sessionSnapshot(e, 42); s.State != StateMenu {
		t.Fatalf("cancel command did not return to menu: %+v", s)
	}
}

func TestBackPreservesCollectedFields(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	sendExpect(t, e, "📝 Записать кассу", "Выберите страницу")
	sendExpect(t, e, "page:P2", "Выберите смену")
	sendExpect(t, e, "shift:12-18", "Выберите тип")

	sendExpect(t, e, "back", "Выберите смену")
	s := sessionSnapshot(e, 42)
	if s.State != StateShiftSelect {
		t.Fatalf("back landed on %s, want %s", s.State, StateShiftSelect)
	}
	if s.Page != "P2" {
		t.Fatalf("page lost on back navigation: %+v", s)
	}

	sendExpect(t, e, "back", "Выберите страницу")
	sendExpect(t, e, "back", "Выберите действие")
	if s := sessionSnapshot(e, 42); s.State != StateMenu {
		t.Fatalf("back from first step should reach menu, got %s", s.State)
	}
}

func TestBackThenCompleteWritesOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "back", "Выберите тип")
	sendExpect(t, e, "type:refund", "Введите сумму")
	sendExpect(t, e, "200", "число месяца")
	sendExpect(t, e, "5", msgCashSaved)

	if len(store.cashEntries) != 1 {
		t.Fatalf("cash entry count mismatch: got=%d want=1", len(store.cashEntries))
	}
	if store.cashEntries[0].Type != OpRefund {
		t.Fatalf("type after back-edit mismatch: got=%s", store.cashEntries[0].Type)
	}
}

func TestDuplicateTerminalInputWritesOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "1500", "число месяца")
	sendExpect(t, e, "16", msgCashSaved)

	// A repeated delivery of the same text lands in the menu state and is
	// rejected there; no second record appears.
	sendExpect(t, e, "16", msgPickOffered)
	if len(store.cashEntries) != 1 {
		t.Fatalf("duplicate terminal input wrote again: got=%d entries", len(store.cashEntries))
	}
}

func TestCashStoreFailureDiscardsSession(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.cashErr = errors.New("airtable down")
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)
	sendExpect(t, e, "1500", "число месяца")
	sendExpect(t, e, "16", msgStoreFailed)

	s := sessionSnapshot(e, 42)
	if s.State != StateMenu || s.Page != "" {
		t.Fatalf("failed write did not discard context: %+v", s)
	}
}

func TestScheduleFlowHappyPath(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.scheduleRows["A|P1"] = true
	e := startAuthorized(t, store)

	sendExpect(t, e, "📅 График смен", "Выберите страницу для графика")
	sendExpect(t, e, "page:P1", "Выберите день")
	sendExpect(t, e, "day:16", "Выберите смену")
	sendExpect(t, e, "status:08-16", "График обновлён")

	if len(store.updates) != 1 {
		t.Fatalf("schedule update count mismatch: got=%d want=1", len(store.updates))
	}
	upd := store.updates[0]
	if upd.Operator != "A" || upd.Page != "P1" || upd.Day != 16 || upd.Status != "08-16" {
		t.Fatalf("schedule update mismatch: %+v", upd)
	}
	if s := sessionSnapshot(e, 42); s.State != StateMenu || s.SchedulePage != "" {
		t.Fatalf("session not reset after schedule update: %+v", s)
	}
}

func TestScheduleDayOff(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.scheduleRows["A|P2"] = true
	e := startAuthorized(t, store)

	sendExpect(t, e, "📅 График смен", "Выберите страницу для графика")
	sendExpect(t, e, "page:P2", "Выберите день")
	sendExpect(t, e, "day:11", "Выберите смену")
	sendExpect(t, e, "status:dayoff", "График обновлён")

	if store.updates[0].Status != DayOffStatus {
		t.Fatalf("day-off status mismatch: got=%q want=%q", store.updates[0].Status, DayOffStatus)
	}
}

func TestScheduleRowMissingReportsNotFound(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)

	sendExpect(t, e, "📅 График смен", "Выберите страницу для графика")
	sendExpect(t, e, "page:P1", "Выберите день")
	sendExpect(t, e, "day:12", "Выберите смену")
	sendExpect(t, e, "status:00-08", msgNoScheduleRow)

	if len(store.updates) != 0 {
		t.Fatalf("update performed despite missing schedule row")
	}
	if s := sessionSnapshot(e, 42); s.State != StateMenu {
		t.Fatalf("session not back at menu after NotFound: %+v", s)
	}
}

func TestScheduleDayOptionsRollOverMonth(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.operators["42"] = testOperator()
	e := newTestEngine(t, store)
	e.Now = func() time.Time {
		return time.Date(2026, time.March, 30, 9, 0, 0, 0, time.UTC)
	}

	sendExpect(t, e, "/start", "Привет")
	sendExpect(t, e, "📅 График смен", "Выберите страницу для графика")
	sendExpect(t, e, "page:P1", "Выберите день")

	s := sessionSnapshot(e, 42)
	want := []int{30, 31, 1, 2, 3, 4, 5}
	if len(s.ScheduleDays) != len(want) {
		t.Fatalf("day option count mismatch: got=%v", s.ScheduleDays)
	}
	for i, day := range want {
		if s.ScheduleDays[i] != day {
			t.Fatalf("day options mismatch: got=%v want=%v", s.ScheduleDays, want)
		}
	}

	// Day 1 belongs to next month and must validate.
	sendExpect(t, e, "day:1", "Выберите смену")
}

func TestStartReplacesStaleSession(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	reachAmountEntry(t, e)

	sendExpect(t, e, "/start", "Привет, A!")
	s := sessionSnapshot(e, 42)
	if s.State != StateMenu || s.Page != "" || s.Type != "" {
		t.Fatalf("stale session survived /start: %+v", s)
	}
}

func TestHelpHasNoStateEffect(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	sendExpect(t, e, "📝 Записать кассу", "Выберите страницу")

	sendExpect(t, e, "/help", "обратитесь к менеджеру")
	if s := sessionSnapshot(e, 42); s.State != StatePageSelect {
		t.Fatalf("/help changed state: %+v", s)
	}
	sendExpect(t, e, "page:P1", "Выберите смену")
}

func TestMenuHelpButton(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e := startAuthorized(t, store)
	sendExpect(t, e, "❓ Помощь", "обратитесь к менеджеру")
	if s := sessionSnapshot(e, 42); s.State != StateMenu {
		t.Fatalf("help button changed state: %+v", s)
	}
}

func TestResolveStoreErrorReported(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.resolveErr = errors.New("airtable down")
	e := newTestEngine(t, store)

	sendExpect(t, e, "/start", msgStoreFailed)
	if s := sessionSnapshot(e, 42); s != nil {
		t.Fatalf("session created despite resolver failure: %+v", s)
	}
}
