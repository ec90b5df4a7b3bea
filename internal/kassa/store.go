package kassa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnauthorized means the Telegram user has no operator record (or an
	// operator record with no accessible pages).
	ErrUnauthorized = errors.New("operator is not authorized")
	// ErrNotFound means an expected record is absent in the store.
	ErrNotFound = errors.New("record not found")
)

// Operator is the identity record loaded once per session on /start.
type Operator struct {
	TelegramID string
	Name       string
	Manager    string
	Pages      []string
}

// OperationType classifies a cash entry. Values are internal tags; the
// user-facing and store-facing label lives in typeLabels.
type OperationType string

const (
	OpCash    OperationType = "cash"
	OpAdvance OperationType = "advance"
	OpRefund  OperationType = "refund"
)

var operationTypes = []OperationType{OpCash, OpAdvance, OpRefund}

var typeLabels = map[OperationType]string{
	OpCash:    "Касса",
	OpAdvance: "Долет",
	OpRefund:  "Возврат",
}

// Label returns the display string for the operation type. The cash table's
// "Тип" column holds the same string, so the store writer reuses it.
func (t OperationType) Label() string {
	return typeLabels[t]
}

// CashEntry is one completed cash flow, ready to append to the cash table.
type CashEntry struct {
	Operator string
	Manager  string
	Page     string
	Amount   decimal.Decimal
	Shift    string
	Date     time.Time
	Type     OperationType
}

// RecordStore is what the dialogue engine needs from the tabular backend.
type RecordStore interface {
	ResolveOperator(ctx context.Context, telegramID string) (Operator, error)
	SubmitCashEntry(ctx context.Context, entry CashEntry) error
	UpdateScheduleDay(ctx context.Context, operatorName, page string, day int, status string) error
}

// AirtableStore implements RecordStore against three Airtable tables.
type AirtableStore struct {
	Client         *AirtableClient
	OperatorsTable string
	CashTable      string
	ScheduleTable  string
}

func (s *AirtableStore) ResolveOperator(ctx context.Context, telegramID string) (Operator, error) {
	formula := fmt.Sprintf("{TG ID} = '%s'", escapeFormulaValue(telegramID))
	records, err := s.Client.ListRecords(ctx, s.OperatorsTable, formula)
	if err != nil {
		return Operator{}, fmt.Errorf("lookup operator: %w", err)
	}
	if len(records) == 0 {
		return Operator{}, ErrUnauthorized
	}
	rec := records[0]
	op := Operator{
		TelegramID: telegramID,
		Name:       fieldString(rec.Fields, "Name"),
		Manager:    fieldString(rec.Fields, "managerName"),
		Pages:      fieldStrings(rec.Fields, "Страница"),
	}
	if len(op.Pages) == 0 {
		return Operator{}, ErrUnauthorized
	}
	return op, nil
}

func (s *AirtableStore) SubmitCashEntry(ctx context.Context, entry CashEntry) error {
	fields := map[string]any{
		"Name":     entry.Operator,
		"Менеджер": entry.Manager,
		"Страница": entry.Page,
		"Касса":    entry.Amount.InexactFloat64(),
		"Смена":    entry.Shift,
		"Date":     formatCashDate(entry.Date),
		"Тип":      entry.Type.Label(),
	}
	if err := s.Client.CreateRecord(ctx, s.CashTable, fields); err != nil {
		return fmt.Errorf("create cash record: %w", err)
	}
	return nil
}

func (s *AirtableStore) UpdateScheduleDay(ctx context.Context, operatorName, page string, day int, status string) error {
	formula := fmt.Sprintf("AND({Имя} = '%s', {Страница} = '%s')",
		escapeFormulaValue(operatorName), escapeFormulaValue(page))
	records, err := s.Client.ListRecords(ctx, s.ScheduleTable, formula)
	if err != nil {
		return fmt.Errorf("lookup schedule row: %w", err)
	}
	if len(records) == 0 {
		return ErrNotFound
	}
	fields := map[string]any{strconv.Itoa(day): status}
	if err := s.Client.UpdateRecord(ctx, s.ScheduleTable, records[0].ID, fields); err != nil {
		return fmt.Errorf("update schedule day: %w", err)
	}
	return nil
}

// formatCashDate renders the date the way the cash table expects: d.m.yyyy
// without zero padding.
func formatCashDate(t time.Time) string {
	return fmt.Sprintf("%d.%d.%d", t.Day(), int(t.Month()), t.Year())
}

func fieldString(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

// fieldStrings reads a field that may be a single string or a multi-value
// list (Airtable returns linked/multi-select columns as JSON arrays).
func fieldStrings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
