package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kassabot/internal/kassa"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := kassa.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store := &kassa.AirtableStore{
		Client:         kassa.NewAirtableClient(cfg.AirtableAPIKey, cfg.BaseID),
		OperatorsTable: cfg.OperatorsTable,
		CashTable:      cfg.CashTable,
		ScheduleTable:  cfg.ScheduleTable,
	}

	engine := kassa.NewEngine(store)
	engine.Out = os.Stdout

	bot, err := kassa.NewBot(kassa.BotOptions{
		Token:          cfg.TelegramToken,
		PollTimeoutSec: cfg.PollTimeoutSec,
		OffsetFile:     cfg.OffsetFile,
		Out:            os.Stdout,
		OnEvent:        engine.Handle,
	})
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WebhookListenAddr != "" {
		runWebhook(ctx, cfg.WebhookListenAddr, bot)
		return
	}

	if err := bot.Run(ctx); err != nil {
		log.Fatalf("telegram: %v", err)
	}
}

func runWebhook(ctx context.Context, addr string, bot *kassa.Bot) {
	srv := &http.Server{
		Addr:    addr,
		Handler: bot.WebhookRouter(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("webhook shutdown: %v", err)
		}
	}()

	log.Printf("webhook server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("webhook: %v", err)
	}
}
