package kassa

import (
	"fmt"
	"strconv"
	"strings"
)

// Option is one selectable control: Value is the tagged payload the engine
// validates against, Label is what the user sees. Keeping them apart is what
// lets validation ignore presentation (emoji, wording).
type Option struct {
	Value string
	Label string
}

// Prompt is one outbound message: text plus keyboard rows. Menu prompts
// render as a persistent reply keyboard, everything else as an inline
// keyboard attached to the message.
type Prompt struct {
	Text string
	Rows [][]Option
	Menu bool
}

// ShiftCatalog is the fixed set of work-shift labels.
var ShiftCatalog = []string{"08-16", "00-08", "12-18", "16-00", "18-00", "06-12"}

// DayOffStatus marks a day off in the schedule table.
const DayOffStatus = "Выходной"

const (
	valueMenuCash     = "menu:cash"
	valueMenuSchedule = "menu:schedule"
	valueMenuHelp     = "menu:help"
	valueToday        = "today"
	valueBack         = "back"
	valueCancel       = "cancel"
	statusDayOff      = "status:dayoff"
)

var (
	menuCashOption     = Option{Value: valueMenuCash, Label: "📝 Записать кассу"}
	menuScheduleOption = Option{Value: valueMenuSchedule, Label: "📅 График смен"}
	menuHelpOption     = Option{Value: valueMenuHelp, Label: "❓ Помощь"}
	todayOption        = Option{Value: valueToday, Label: "Сегодня"}
	backOption         = Option{Value: valueBack, Label: "⬅️ Назад"}
	cancelOption       = Option{Value: valueCancel, Label: "Отмена"}
)

const (
	msgHelp = "1. \"Записать кассу\" — только по своим страницам\n" +
		"2. \"График смен\" — только по своим страницам\n" +
		"3. Все данные пишутся в таблицу автоматически\n" +
		"Если возникли вопросы — обратитесь к менеджеру."
	msgUnauthorized  = "У вас нет доступа к боту. Обратитесь к администратору."
	msgStartRequired = "Отправьте /start, чтобы начать."
	msgCancelled     = "Операция отменена."
	msgPickOffered   = "Выберите один из предложенных вариантов."
	msgBadAmount     = "Введите корректную сумму (например: 1000 или 1000.50)"
	msgBadDay        = "Введите корректное число (1-31)"
	msgCashSaved     = "✅ Запись кассы добавлена!"
	msgNoScheduleRow = "❌ Не найдена строка графика для этой страницы."
	msgStoreFailed   = "❌ Не удалось сохранить запись. Попробуйте ещё раз."
)

func menuOptions() []Option {
	return []Option{menuCashOption, menuScheduleOption, menuHelpOption}
}

func pageOptions(pages []string) []Option {
	out := make([]Option, 0, len(pages))
	for _, page := range pages {
		out = append(out, Option{Value: "page:" + page, Label: page})
	}
	return out
}

func shiftOptions() []Option {
	out := make([]Option, 0, len(ShiftCatalog))
	for _, shift := range ShiftCatalog {
		out = append(out, Option{Value: "shift:" + shift, Label: shift})
	}
	return out
}

func typeOptions() []Option {
	out := make([]Option, 0, len(operationTypes))
	for _, t := range operationTypes {
		out = append(out, Option{Value: "type:" + string(t), Label: t.Label()})
	}
	return out
}

func dayOptions(days []int) []Option {
	out := make([]Option, 0, len(days))
	for _, day := range days {
		out = append(out, Option{Value: "day:" + strconv.Itoa(day), Label: strconv.Itoa(day)})
	}
	return out
}

func statusOptions() []Option {
	out := make([]Option, 0, len(ShiftCatalog)+1)
	for _, shift := range ShiftCatalog {
		out = append(out, Option{Value: "status:" + shift, Label: shift})
	}
	out = append(out, Option{Value: statusDayOff, Label: DayOffStatus})
	return out
}

// statusValue maps a picked status option back to the string stored in the
// schedule day column.
func statusValue(opt Option) string {
	if opt.Value == statusDayOff {
		return DayOffStatus
	}
	return strings.TrimPrefix(opt.Value, "status:")
}

// promptFor renders the prompt for the session's current state. A cancel
// control is always present outside the menu; back is offered alongside it.
func promptFor(s *Session) Prompt {
	switch s.State {
	case StateMenu:
		return Prompt{
			Text: fmt.Sprintf("Привет, %s! Выберите действие:", s.Operator.Name),
			Rows: [][]Option{
				{menuCashOption, menuScheduleOption},
				{menuHelpOption},
			},
			Menu: true,
		}
	case StatePageSelect:
		return optionPrompt("Выберите страницу:", pageOptions(s.Operator.Pages), 1)
	case StateShiftSelect:
		return optionPrompt("Выберите смену:", shiftOptions(), 3)
	case StateTypeSelect:
		return optionPrompt(fmt.Sprintf("Страница: %s\nВыберите тип:", s.Page), typeOptions(), 1)
	case StateAmountEntry:
		return optionPrompt(fmt.Sprintf("Тип: %s\nВведите сумму:", s.Type.Label()), nil, 1)
	case StateDateEntry:
		return optionPrompt("Введите число месяца (например: 16):", []Option{todayOption}, 1)
	case StateSchedulePageSelect:
		return optionPrompt("Выберите страницу для графика:", pageOptions(s.Operator.Pages), 1)
	case StateScheduleDaySelect:
		return optionPrompt("Выберите день:", dayOptions(s.ScheduleDays), 4)
	case StateScheduleShiftSelect:
		return optionPrompt("Выберите смену:", statusOptions(), 3)
	default:
		return Prompt{Text: msgStartRequired}
	}
}

// optionPrompt lays options out in rows of perRow and appends the back/cancel
// control row.
func optionPrompt(text string, options []Option, perRow int) Prompt {
	if perRow < 1 {
		perRow = 1
	}
	var rows [][]Option
	for len(options) > 0 {
		n := perRow
		if n > len(options) {
			n = len(options)
		}
		rows = append(rows, options[:n])
		options = options[n:]
	}
	rows = append(rows, []Option{backOption, cancelOption})
	return Prompt{Text: text, Rows: rows}
}
