package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the normalized record every provider maps its payloads to.
// Amount fields are kept exactly as the upstream sent them; resolution of the
// total_amount/amount fallback chain happens at aggregation time.
type Transaction struct {
	ID              string           `json:"id"`
	Source          string           `json:"source"`
	TotalAmount     *decimal.Decimal `json:"total_amount,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	CustomerID      string           `json:"customer_id,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Category        string           `json:"category,omitempty"`
	TransactionType string           `json:"transaction_type,omitempty"`
	PaymentMethod   string           `json:"payment_method,omitempty"`
}

// RevenueAmount resolves the upstream field fallback chain exactly as the
// sources behave: total_amount, then amount, else zero.
func (t Transaction) RevenueAmount() decimal.Decimal {
	if t.TotalAmount != nil {
		return *t.TotalAmount
	}
	if t.Amount != nil {
		return *t.Amount
	}
	return decimal.Zero
}

// CategoryLabel falls back category -> transaction_type -> "Other".
func (t Transaction) CategoryLabel() string {
	if t.Category != "" {
		return t.Category
	}
	if t.TransactionType != "" {
		return t.TransactionType
	}
	return "Other"
}

// ConnectionStatus reports the outcome of a connectivity probe.
type ConnectionStatus struct {
	Success bool
	Error   string
}

// Connector is the normalized capability every provider exposes.
type Connector interface {
	TestConnection(ctx context.Context) ConnectionStatus
	FetchAllTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

// Registry maps configured source names to connectors.
type Registry struct {
	connectors map[string]Connector
	order      []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under a source name, replacing any previous entry.
func (r *Registry) Register(name string, c Connector) {
	if _, exists := r.connectors[name]; !exists {
		r.order = append(r.order, name)
	}
	r.connectors[name] = c
}

// Get resolves a source name. Unconfigured names fail immediately; the
// orchestrator records them as failed outcomes without spending a retry.
func (r *Registry) Get(name string) (Connector, error) {
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("unknown API %q", name)
	}
	return c, nil
}

// Names lists registered source names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
