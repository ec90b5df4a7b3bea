package kassa

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is everything the bot needs at startup. A missing required key is a
// startup error, never a runtime one.
type Config struct {
	TelegramToken string

	AirtableAPIKey string
	BaseID         string
	OperatorsTable string
	CashTable      string
	ScheduleTable  string

	PollTimeoutSec int
	OffsetFile     string
	// WebhookListenAddr switches the transport from long polling to a
	// webhook HTTP server when set.
	WebhookListenAddr string
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		TelegramToken:     envValue("TELEGRAM_BOT_TOKEN"),
		AirtableAPIKey:    envValue("AIRTABLE_API_KEY"),
		BaseID:            envValue("BASE_ID"),
		OperatorsTable:    envValue("OPERATORS_TABLE_ID"),
		CashTable:         envValue("CASH_TABLE_ID"),
		ScheduleTable:     envValue("SCHEDULE_TABLE_ID"),
		PollTimeoutSec:    envIntDefault("POLL_TIMEOUT_SEC", 30),
		OffsetFile:        envValue("OFFSET_FILE"),
		WebhookListenAddr: envValue("WEBHOOK_LISTEN_ADDR"),
	}

	var missing []string
	for _, kv := range []struct{ key, value string }{
		{"TELEGRAM_BOT_TOKEN", cfg.TelegramToken},
		{"AIRTABLE_API_KEY", cfg.AirtableAPIKey},
		{"BASE_ID", cfg.BaseID},
		{"OPERATORS_TABLE_ID", cfg.OperatorsTable},
		{"CASH_TABLE_ID", cfg.CashTable},
		{"SCHEDULE_TABLE_ID", cfg.ScheduleTable},
	} {
		if kv.value == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if cfg.PollTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("POLL_TIMEOUT_SEC must be > 0")
	}
	return cfg, nil
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envIntDefault(key string, fallback int) int {
	raw := envValue(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
