package kassa

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// WebhookRouter exposes the bot over HTTP for deployments that register a
// Telegram webhook instead of long polling. Updates land on POST
// /telegram/webhook and travel the same path as polled ones.
func (b *Bot) WebhookRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/telegram/webhook", b.handleWebhook).Methods("POST")
	r.HandleFunc("/healthz", handleHealth).Methods("GET")
	return r
}

func (b *Bot) handleWebhook(w http.ResponseWriter, req *http.Request) {
	var upd telegramUpdate
	if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
		fmt.Fprintf(b.out, "[telegram] warning: webhook decode failed: %v\n", err)
		http.Error(w, "bad update payload", http.StatusBadRequest)
		return
	}
	b.HandleUpdate(req.Context(), upd)
	w.WriteHeader(http.StatusOK)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}
