package connector

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

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestProviderFetchMissingBaseURL(t *testing.T) {
	p := NewProvider(ProviderOptions{Name: "pos"}, noopLogger())
	if _, err := p.FetchAllTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("missing base URL should return an error")
	}
}

func TestProviderFetchInvalidWindow(t *testing.T) {
	p := NewProvider(ProviderOptions{Name: "pos", BaseURL: "http://localhost"}, noopLogger())
	now := time.Now()
	if _, err := p.FetchAllTransactions(context.Background(), now, now); err == nil {
		t.Fatal("from == to should return an error")
	}
}

func TestProviderFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "maintenance window"})
	}))
	defer srv.Close()

	p := NewProvider(ProviderOptions{
		Name:    "pos",
		BaseURL: srv.URL,
		Timeout: time.Second,
	}, noopLogger())

	_, err := p.FetchAllTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("HTTP 503 should return an error")
	}
	if !strings.Contains(err.Error(), "(503)") {
		t.Fatalf("error should carry the status code, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "maintenance window") {
		t.Fatalf("error should carry the upstream message, got %q", err.Error())
	}
}

func TestProviderFetchSuccess(t *testing.T) {
	var gotAuth, gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "t1", "total_amount": "42.50", "customer_id": "c1", "timestamp": time.Now().UTC().Format(time.RFC3339)},
				{"id": "t2", "amount": "10", "source": "pos-terminal-2", "timestamp": time.Now().UTC().Format(time.RFC3339)},
			},
		})
	}))
	defer srv.Close()

	p := NewProvider(ProviderOptions{
		Name:    "pos",
		BaseURL: srv.URL,
		APIKey:  "secret",
		Timeout: time.Second,
	}, noopLogger())

	from := time.Now().Add(-time.Hour)
	to := time.Now()
	records, err := p.FetchAllTransactions(context.Background(), from, to)
	if err != nil {
		t.Fatalf("successful response should not fail: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if gotFrom == "" || gotTo == "" {
		t.Fatal("from/to query parameters should be set")
	}

	// upstream source field wins; empty source falls back to the connector name
	if records[0].Source != "pos" {
		t.Fatalf("empty source should default to connector name, got %q", records[0].Source)
	}
	if records[1].Source != "pos-terminal-2" {
		t.Fatalf("explicit source should be preserved, got %q", records[1].Source)
	}
	if records[0].RevenueAmount().Cmp(decimal.RequireFromString("42.50")) != 0 {
		t.Fatalf("expected total_amount 42.50, got %s", records[0].RevenueAmount())
	}
}

func TestProviderTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProvider(ProviderOptions{Name: "pos", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	status := p.TestConnection(context.Background())
	if !status.Success {
		t.Fatalf("health probe should succeed: %s", status.Error)
	}
}

func TestTransactionFallbackChains(t *testing.T) {
	total := decimal.NewFromInt(100)
	amount := decimal.NewFromInt(40)

	both := Transaction{TotalAmount: &total, Amount: &amount}
	if both.RevenueAmount().Cmp(total) != 0 {
		t.Fatal("total_amount should win over amount")
	}

	amountOnly := Transaction{Amount: &amount}
	if amountOnly.RevenueAmount().Cmp(amount) != 0 {
		t.Fatal("amount should be used when total_amount is absent")
	}

	neither := Transaction{}
	if !neither.RevenueAmount().IsZero() {
		t.Fatal("missing amounts should resolve to zero")
	}

	if (Transaction{Category: "Bar", TransactionType: "sale"}).CategoryLabel() != "Bar" {
		t.Fatal("category should win over transaction_type")
	}
	if (Transaction{TransactionType: "sale"}).CategoryLabel() != "sale" {
		t.Fatal("transaction_type should be used when category is absent")
	}
	if (Transaction{}).CategoryLabel() != "Other" {
		t.Fatal("missing labels should resolve to Other")
	}
}

func TestRegistryUnknownSource(t *testing.T) {
	r := NewRegistry()
	r.Register("pos", NewProvider(ProviderOptions{Name: "pos"}, noopLogger()))

	if _, err := r.Get("pos"); err != nil {
		t.Fatalf("registered source should resolve: %v", err)
	}
	if _, err := r.Get("mystery"); err == nil {
		t.Fatal("unregistered source should fail")
	} else if !strings.Contains(err.Error(), `unknown API "mystery"`) {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}
