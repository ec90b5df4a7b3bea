package kassa

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Validators are pure: raw input in, value or rejection out. The engine
// decides what a rejection does to the session (nothing).

var (
	errBadAmount = errors.New("amount must be a positive number")
	errBadDay    = errors.New("day must be an integer between 1 and 31")
)

// ParseAmount parses a cash amount, accepting both '.' and ',' as the
// fractional separator. Zero and negative amounts are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, ",", ".")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errBadAmount
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, errBadAmount
	}
	return amount, nil
}

// ParseDayOfMonth parses a day-of-month entry, bound-checked to [1,31].
func ParseDayOfMonth(raw string) (int, error) {
	day, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errBadDay
	}
	if day < 1 || day > 31 {
		return 0, errBadDay
	}
	return day, nil
}

// matchOption checks input against an offered option set. Callback payloads
// carry the tagged value; reply-keyboard presses arrive as the display label,
// so both are accepted.
func matchOption(input string, options []Option) (Option, bool) {
	input = strings.TrimSpace(input)
	for _, opt := range options {
		if input == opt.Value {
			return opt, true
		}
	}
	for _, opt := range options {
		if input == opt.Label {
			return opt, true
		}
	}
	return Option{}, false
}

func isOption(input string, opt Option) bool {
	_, ok := matchOption(input, []Option{opt})
	return ok
}
