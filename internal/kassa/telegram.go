package kassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// EventHandler consumes one normalized inbound event and returns the prompts
// to send back to the user.
type EventHandler func(ctx context.Context, ev Event) []Prompt

type BotOptions struct {
	Token          string
	PollTimeoutSec int
	OffsetFile     string
	BaseURL        string
	Client         *http.Client
	Out            io.Writer
	OnEvent        EventHandler
}

// Bot talks to the Telegram Bot API. It runs either as a long-polling loop
// (Run) or behind the webhook router (WebhookRouter); both feed the same
// update path.
type Bot struct {
	token          string
	baseURL        string
	pollTimeoutSec int
	offsetFile     string
	client         *http.Client
	out            io.Writer
	onEvent        EventHandler
}

func NewBot(opts BotOptions) (*Bot, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if opts.OnEvent == nil {
		return nil, fmt.Errorf("telegram event handler is required")
	}
	pollTimeoutSec := opts.PollTimeoutSec
	if pollTimeoutSec <= 0 {
		pollTimeoutSec = 30
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: time.Duration(pollTimeoutSec+15) * time.Second}
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Bot{
		token:          token,
		baseURL:        strings.TrimRight(baseURL, "/"),
		pollTimeoutSec: pollTimeoutSec,
		offsetFile:     opts.OffsetFile,
		client:         client,
		out:            out,
		onEvent:        opts.OnEvent,
	}, nil
}

type telegramUpdate struct {
	UpdateID      int64                  `json:"update_id"`
	Message       *telegramMessage       `json:"message,omitempty"`
	CallbackQuery *telegramCallbackQuery `json:"callback_query,omitempty"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *telegramUser `json:"from,omitempty"`
	Chat      telegramChat  `json:"chat"`
	Text      string        `json:"text"`
}

type telegramUser struct {
	ID int64 `json:"id"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

type telegramCallbackQuery struct {
	ID      string           `json:"id"`
	From    telegramUser     `json:"from"`
	Message *telegramMessage `json:"message,omitempty"`
	Data    string           `json:"data"`
}

type telegramGetUpdatesResponse struct {
	OK          bool             `json:"ok"`
	Description string           `json:"description,omitempty"`
	Result      []telegramUpdate `json:"result"`
}

type telegramCallResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard,omitempty"`
	Keyboard       [][]keyboardButton       `json:"keyboard,omitempty"`
	ResizeKeyboard bool                     `json:"resize_keyboard,omitempty"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type editMessageTextRequest struct {
	ChatID      int64        `json:"chat_id"`
	MessageID   int64        `json:"message_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackQueryRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
}

// Run polls getUpdates until ctx is cancelled, dispatching each update
// through the event handler. Transport errors back off and retry; the update
// offset survives restarts via the offset file.
func (b *Bot) Run(ctx context.Context) error {
	offset, err := loadUpdateOffset(b.offsetFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(b.out, "[telegram] bot started (poll_timeout=%ds)\n", b.pollTimeoutSec)
	backoff := 2 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(b.out, "[telegram] interrupted; stopping")
			return nil
		}

		updates, nextOffset, err := b.getUpdates(ctx, offset)
		if err != nil {
			fmt.Fprintf(b.out, "[telegram] warning: getUpdates failed: %v\n", err)
			if sleepErr := sleepOrCancel(ctx, backoff); sleepErr != nil {
				return nil
			}
			if backoff < 15*time.Second {
				backoff *= 2
				if backoff > 15*time.Second {
					backoff = 15 * time.Second
				}
			}
			continue
		}
		backoff = 2 * time.Second

		for _, upd := range updates {
			b.HandleUpdate(ctx, upd)
		}

		if nextOffset > offset {
			offset = nextOffset
			if err := saveUpdateOffset(b.offsetFile, offset); err != nil {
				fmt.Fprintf(b.out, "[telegram] warning: save offset failed: %v\n", err)
			}
		}
	}
}

// HandleUpdate normalizes one Bot API update into an Event, runs the handler
// and delivers the resulting prompts. Callback selections are acknowledged
// and their triggering message is edited in place so the chat does not pile
// up stale keyboards.
func (b *Bot) HandleUpdate(ctx context.Context, upd telegramUpdate) {
	switch {
	case upd.CallbackQuery != nil:
		cb := upd.CallbackQuery
		if err := b.answerCallbackQuery(ctx, cb.ID); err != nil {
			fmt.Fprintf(b.out, "[telegram] warning: answerCallbackQuery failed: %v\n", err)
		}
		data := strings.TrimSpace(cb.Data)
		if cb.From.ID == 0 || data == "" {
			return
		}
		prompts := b.onEvent(ctx, Event{UserID: cb.From.ID, Input: data, Callback: true})
		chatID := cb.From.ID
		var editID int64
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
			editID = cb.Message.MessageID
		}
		b.deliver(ctx, chatID, editID, prompts)
	case upd.Message != nil:
		msg := upd.Message
		userID := msg.Chat.ID
		if msg.From != nil && msg.From.ID != 0 {
			userID = msg.From.ID
		}
		text := strings.TrimSpace(msg.Text)
		if userID == 0 || text == "" {
			return
		}
		prompts := b.onEvent(ctx, Event{UserID: userID, Input: text})
		b.deliver(ctx, msg.Chat.ID, 0, prompts)
	}
}

// deliver sends the prompts in order. When the event was a callback, the
// first prompt replaces the callback's message; reply-keyboard prompts can
// only go out as fresh messages.
func (b *Bot) deliver(ctx context.Context, chatID, editMessageID int64, prompts []Prompt) {
	for i, p := range prompts {
		var err error
		if i == 0 && editMessageID != 0 && !p.Menu {
			err = b.editMessageText(ctx, chatID, editMessageID, p.Text, inlineMarkup(p))
		} else {
			err = b.sendMessage(ctx, chatID, p.Text, promptMarkup(p))
		}
		if err != nil {
			fmt.Fprintf(b.out, "[telegram] warning: reply failed chat=%d: %v\n", chatID, err)
			return
		}
	}
}

// promptMarkup builds the keyboard for a prompt: a resized reply keyboard
// for the menu, an inline keyboard of tagged callbacks otherwise.
func promptMarkup(p Prompt) *replyMarkup {
	if len(p.Rows) == 0 {
		return nil
	}
	if p.Menu {
		rows := make([][]keyboardButton, 0, len(p.Rows))
		for _, row := range p.Rows {
			buttons := make([]keyboardButton, 0, len(row))
			for _, opt := range row {
				buttons = append(buttons, keyboardButton{Text: opt.Label})
			}
			rows = append(rows, buttons)
		}
		return &replyMarkup{Keyboard: rows, ResizeKeyboard: true}
	}
	return inlineMarkup(p)
}

func inlineMarkup(p Prompt) *replyMarkup {
	if len(p.Rows) == 0 || p.Menu {
		return nil
	}
	rows := make([][]inlineKeyboardButton, 0, len(p.Rows))
	for _, row := range p.Rows {
		buttons := make([]inlineKeyboardButton, 0, len(row))
		for _, opt := range row {
			buttons = append(buttons, inlineKeyboardButton{Text: opt.Label, CallbackData: opt.Value})
		}
		rows = append(rows, buttons)
	}
	return &replyMarkup{InlineKeyboard: rows}
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, int64, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates", b.baseURL, b.token)
	values := url.Values{}
	values.Set("timeout", strconv.Itoa(b.pollTimeoutSec))
	if offset > 0 {
		values.Set("offset", strconv.FormatInt(offset, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, offset, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, offset, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, offset, fmt.Errorf("telegram getUpdates http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload telegramGetUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, offset, err
	}
	if !payload.OK {
		if strings.TrimSpace(payload.Description) == "" {
			return nil, offset, fmt.Errorf("telegram getUpdates failed")
		}
		return nil, offset, fmt.Errorf("telegram getUpdates failed: %s", payload.Description)
	}

	nextOffset := offset
	for _, upd := range payload.Result {
		if upd.UpdateID >= nextOffset {
			nextOffset = upd.UpdateID + 1
		}
	}
	return payload.Result, nextOffset, nil
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, markup *replyMarkup) error {
	return b.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup})
}

func (b *Bot) editMessageText(ctx context.Context, chatID, messageID int64, text string, markup *replyMarkup) error {
	return b.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: markup,
	})
}

func (b *Bot) answerCallbackQuery(ctx context.Context, callbackID string) error {
	return b.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: callbackID})
}

func (b *Bot) call(ctx context.Context, method string, payload any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("telegram %s http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var res telegramCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return err
	}
	if !res.OK {
		if strings.TrimSpace(res.Description) == "" {
			return fmt.Errorf("telegram %s failed", method)
		}
		return fmt.Errorf("telegram %s failed: %s", method, res.Description)
	}
	return nil
}

func loadUpdateOffset(path string) (int64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read telegram offset file: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse telegram offset: %w", err)
	}
	if offset < 0 {
		return 0, nil
	}
	return offset, nil
}

func saveUpdateOffset(path string, offset int64) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create telegram offset dir: %w", err)
	}
	content := strconv.FormatInt(offset, 10) + "\n"
	return os.WriteFile(path, []byte(content), 0o644)
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
