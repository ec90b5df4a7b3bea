package kassa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is one normalized inbound chat event: either a free-text message or
// a callback selection, tagged with the external user id.
type Event struct {
	UserID   int64
	Input    string
	Callback bool
}

// Engine drives the two dialogue flows. All transitions for a user run under
// that user's session lock, record-store calls included, so duplicated or
// near-simultaneous events serialize per user.
type Engine struct {
	Store    RecordStore
	Sessions *SessionStore
	Now      func() time.Time
	Out      io.Writer
}

func NewEngine(store RecordStore) *Engine {
	return &Engine{
		Store:    store,
		Sessions: NewSessionStore(),
		Now:      time.Now,
		Out:      io.Discard,
	}
}

// Handle applies one event and returns the prompts to send back.
func (e *Engine) Handle(ctx context.Context, ev Event) []Prompt {
	input := strings.TrimSpace(ev.Input)
	if input == "" {
		return nil
	}

	var prompts []Prompt
	e.Sessions.Update(ev.UserID, func(s *Session) *Session {
		switch {
		case input == "/start":
			next, p := e.startSession(ctx, ev.UserID)
			prompts = p
			return next
		case input == "/help":
			prompts = []Prompt{{Text: msgHelp}}
			return s
		case s == nil:
			prompts = []Prompt{{Text: msgStartRequired}}
			return nil
		case isOption(input, cancelOption) || input == "/cancel":
			if s.State == StateMenu {
				prompts = []Prompt{promptFor(s)}
				return s
			}
			s.reset()
			prompts = []Prompt{{Text: msgCancelled}}
			return s
		case isOption(input, backOption) && s.State != StateMenu:
			if !s.pop() {
				s.State = StateMenu
			}
			prompts = []Prompt{promptFor(s)}
			return s
		default:
			prompts = e.transition(ctx, s, input)
			return s
		}
	})
	return prompts
}

// startSession authorizes the user and replaces any stale session. The
// operator lookup happens here and only here; menu actions reuse the loaded
// profile until the next /start.
func (e *Engine) startSession(ctx context.Context, userID int64) (*Session, []Prompt) {
	op, err := e.Store.ResolveOperator(ctx, strconv.FormatInt(userID, 10))
	if errors.Is(err, ErrUnauthorized) {
		return nil, []Prompt{{Text: msgUnauthorized}}
	}
	if err != nil {
		e.logf("resolve operator failed user=%d: %v", userID, err)
		return nil, []Prompt{{Text: msgStoreFailed}}
	}
	s := &Session{UserID: userID, Operator: op, State: StateMenu}
	return s, []Prompt{promptFor(s)}
}

func (e *Engine) transition(ctx context.Context, s *Session, input string) []Prompt {
	switch s.State {
	case StateMenu:
		return e.handleMenu(s, input)
	case StatePageSelect:
		return e.handlePageSelect(s, input)
	case StateShiftSelect:
		return e.handleShiftSelect(s, input)
	case StateTypeSelect:
		return e.handleTypeSelect(s, input)
	case StateAmountEntry:
		return e.handleAmountEntry(s, input)
	case StateDateEntry:
		return e.handleDateEntry(ctx, s, input)
	case StateSchedulePageSelect:
		return e.handleSchedulePageSelect(s, input)
	case StateScheduleDaySelect:
		return e.handleScheduleDaySelect(s, input)
	case StateScheduleShiftSelect:
		return e.handleScheduleShiftSelect(ctx, s, input)
	default:
		s.reset()
		return []Prompt{promptFor(s)}
	}
}

func (e *Engine) handleMenu(s *Session, input string) []Prompt {
	opt, ok := matchOption(input, menuOptions())
	if !ok {
		return []Prompt{{Text: msgPickOffered}}
	}
	switch opt.Value {
	case valueMenuCash:
		s.push(StatePageSelect)
		return []Prompt{promptFor(s)}
	case valueMenuSchedule:
		s.push(StateSchedulePageSelect)
		return []Prompt{promptFor(s)}
	default:
		return []Prompt{{Text: msgHelp}}
	}
}

func (e *Engine) handlePageSelect(s *Session, input string) []Prompt {
	opt, ok := matchOption(input, pageOptions(s.Operator.Pages))
	if !ok {
		return rePrompt(s)
	}
	s.Page = strings.TrimPrefix(opt.Value, "page:")
	s.push(StateShiftSelect)
	return []Prompt{promptFor(s)}
}

func (e *Engine) handleShiftSelect(s *Session, input string) []Prompt {
	opt, ok := matchOption(input, shiftOptions())
	if !ok {
		return rePrompt(s)
	}
	s.Shift = strings.TrimPrefix(opt.Value, "shift:")
	s.push(StateTypeSelect)
	return []Prompt{promptFor(s)}
}

func (e *Engine) handleTypeSelect(s *Session, input string) []Prompt {
	opt, ok := matchOption(input, typeOptions())
	if !ok {
		return rePrompt(s)
	}
	s.Type = OperationType(strings.TrimPrefix(opt.Value, "type:"))
	s.push(StateAmountEntry)
	return []Prompt{promptFor(s)}
}

func (e *Engine) handleAmountEntry(s *Session, input string) []Prompt {
	amount, err := ParseAmount(input)
	if err != nil {
		return []Prompt{{Text: msgBadAmount}}
	}
	s.Amount = amount
	s.push(StateDateEntry)
	return []Prompt{promptFor(s)}
}

// handleDateEntry is the cash flow's terminal transition: the single place
// the cash writer is invoked. The session is cleared right after, success or
// not, so retained state can never resubmit.
func (e *Engine) handleDateEntry(ctx context.Context, s *Session, input string) []Prompt {
	now := e.now()
	var day int
	if _, ok := matchOption(input, []Option{todayOption}); ok {
		day = now.Day()
	} else {
		d, err := ParseDayOfMonth(input)
		if err != nil {
			return []Prompt{{Text: msgBadDay}}
		}
		day = d
	}

	entry := CashEntry{
		Operator: s.Operator.Name,
		Manager:  s.Operator.Manager,
		Page:     s.Page,
		Amount:   s.Amount,
		Shift:    s.Shift,
		Date:     time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, now.Location()),
		Type:     s.Type,
	}
	err := e.Store.SubmitCashEntry(ctx, entry)
	s.reset()
	if err != nil {
		e.logf("cash entry failed user=%d: %v", s.UserID, err)
		return []Prompt{{Text: msgStoreFailed}}
	}
	return []Prompt{{Text: msgCashSaved}}
}

func (e *Engine) handleSchedulePageSelect(s *Session, input string) []Prompt {
	opt, ok := matchOption(input, pageOptions(s.Operator.Pages))
	if !ok {
		return rePrompt(s)
	}
	s.SchedulePage = strings.TrimPrefix(opt.Value, "page:")
	s.ScheduleDays = upcomingDays(e.now(), 7)
	s.push(StateScheduleDaySelect)
	return []Prompt{promptFor(s)}
}

func (e *Engine) handleScheduleDaySelect(s *Session, input string) []Prompt {
	opt, ok := matchOption(input, dayOptions(s.ScheduleDays))
	if !ok {
		return rePrompt(s)
	}
	day, err := strconv.Atoi(strings.TrimPrefix(opt.Value, "day:"))
	if err != nil {
		return rePrompt(s)
	}
	s.ScheduleDay = day
	s.push(StateScheduleShiftSelect)
	return []Prompt{promptFor(s)}
}

// handleScheduleShiftSelect is the schedule flow's terminal transition.
func (e *Engine) handleScheduleShiftSelect(ctx context.Context, s *Session, input string) []Prompt {
	opt, ok := matchOption(input, statusOptions())
	if !ok {
		return rePrompt(s)
	}
	status := statusValue(opt)
	page, day := s.SchedulePage, s.ScheduleDay
	err := e.Store.UpdateScheduleDay(ctx, s.Operator.Name, page, day, status)
	s.reset()
	if errors.Is(err, ErrNotFound) {
		return []Prompt{{Text: msgNoScheduleRow}}
	}
	if err != nil {
		e.logf("schedule update failed user=%d: %v", s.UserID, err)
		return []Prompt{{Text: msgStoreFailed}}
	}
	return []Prompt{{Text: fmt.Sprintf("✅ График обновлён: %s, %d число — %s", page, day, status)}}
}

// rePrompt rejects out-of-set input: explanatory message plus the same
// state's prompt, nothing collected is touched.
func rePrompt(s *Session) []Prompt {
	return []Prompt{{Text: msgPickOffered}, promptFor(s)}
}

// upcomingDays lists the day-of-month values of the next n calendar days,
// rolling over month boundaries.
func upcomingDays(now time.Time, n int) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, now.AddDate(0, 0, i).Day())
	}
	return out
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logf(format string, args ...any) {
	if e.Out == nil {
		return
	}
	fmt.Fprintf(e.Out, "[kassa] "+format+"\n", args...)
}
