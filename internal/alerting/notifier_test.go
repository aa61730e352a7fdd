package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testAlert() Alert {
	return Alert{
		VenueID:   "venue-1",
		Type:      TypeRevenueDrop,
		Severity:  SeverityHigh,
		Title:     "Revenue drop detected",
		Message:   "Revenue is down 25.0% against the previous period",
		Value:     decimal.NewFromInt(25),
		Threshold: decimal.NewFromInt(20),
		ActionSuggestions: []ActionSuggestion{
			{Action: "review_sources", Description: "Check whether a provider stopped reporting"},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Telegram Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "venue-1") {
		t.Fatalf("message should name the venue: %q", received["text"])
	}
	if !strings.Contains(received["text"], "review_sources") {
		t.Fatalf("message should list action suggestions: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testAlert()); err == nil {
		t.Fatal("ok=false should return an error")
	}
}
