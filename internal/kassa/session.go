package kassa

import (
	"sync"

	"github.com/shopspring/decimal"
)

// State names one node of the dialogue state machine.
type State string

const (
	StateMenu                State = "menu"
	StatePageSelect          State = "page_select"
	StateShiftSelect         State = "shift_select"
	StateTypeSelect          State = "type_select"
	StateAmountEntry         State = "amount_entry"
	StateDateEntry           State = "date_entry"
	StateSchedulePageSelect  State = "schedule_page_select"
	StateScheduleDaySelect   State = "schedule_day_select"
	StateScheduleShiftSelect State = "schedule_shift_select"
)

// Session is the per-user dialogue context: the current state, the fields
// collected so far, and an explicit previous-state stack for back navigation.
type Session struct {
	UserID   int64
	Operator Operator
	State    State

	Page   string
	Shift  string
	Type   OperationType
	Amount decimal.Decimal

	SchedulePage string
	ScheduleDay  int
	// ScheduleDays pins the day options offered when the user entered
	// SCHEDULE_DAY_SELECT, so validation and back navigation see the same
	// set even if midnight passes mid-flow.
	ScheduleDays []int

	history []State
}

// push records the current state before a forward transition.
func (s *Session) push(next State) {
	s.history = append(s.history, s.State)
	s.State = next
}

// pop returns to the immediately preceding state. It reports false when
// there is nothing to go back to.
func (s *Session) pop() bool {
	if len(s.history) == 0 {
		return false
	}
	s.State = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return true
}

// reset discards everything collected in the current flow and returns the
// session to the menu. The operator stays: it is session-scoped, not
// flow-scoped.
func (s *Session) reset() {
	*s = Session{UserID: s.UserID, Operator: s.Operator, State: StateMenu}
}

// SessionStore holds one session per user id. Update serializes all access
// for a given user: the per-user lock is held for the caller's whole
// read-validate-transition cycle, including any blocking store calls, so a
// duplicate delivery queues instead of interleaving two transitions.
// Different users proceed in parallel.
type SessionStore struct {
	mu    sync.Mutex
	slots map[int64]*sessionSlot
}

type sessionSlot struct {
	mu      sync.Mutex
	session *Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{slots: map[int64]*sessionSlot{}}
}

// Update runs fn with the user's current session (nil if none) under the
// user's lock. fn returns the session to keep; returning nil removes it.
func (s *SessionStore) Update(userID int64, fn func(*Session) *Session) {
	slot := s.slot(userID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.session = fn(slot.session)
}

func (s *SessionStore) slot(userID int64) *sessionSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[userID]
	if !ok {
		slot = &sessionSlot{}
		s.slots[userID] = slot
	}
	return slot
}
