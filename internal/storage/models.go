package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot statuses. A snapshot is mutated exactly once after creation.
const (
	SnapshotInProgress = "in_progress"
	SnapshotCompleted  = "completed"
	SnapshotFailed     = "failed"
)

// Snapshot is the append-only audit record of one orchestration cycle.
type Snapshot struct {
	ID               string
	VenueID          string
	Status           string
	StartedAt        time.Time
	CompletedAt      *time.Time
	PerSourceFetched map[string]bool
	TotalRevenue     decimal.Decimal
	TransactionCount int64
	UniqueCustomers  int64
	ErrorMessage     *string
}

// SnapshotCompletion carries the aggregate metrics recorded at cycle end.
type SnapshotCompletion struct {
	PerSourceFetched map[string]bool
	TotalRevenue     decimal.Decimal
	TransactionCount int64
	UniqueCustomers  int64
}

// AlertRecord captures an emitted alert for delivery and auditing.
type AlertRecord struct {
	ID                string
	VenueID           string
	Type              string
	Severity          string
	Title             string
	Message           string
	Value             decimal.Decimal
	Threshold         decimal.Decimal
	Context           json.RawMessage
	GroupID           *string
	ActionSuggestions json.RawMessage
	CreatedAt         time.Time
	ResolvedAt        *time.Time
}

// IsolatedErrorRecord is written by the error isolation layer on every
// caught connector failure.
type IsolatedErrorRecord struct {
	ID         string
	VenueID    string
	Source     string
	Severity   string
	ErrorType  string
	Message    string
	OccurredAt time.Time
	RetryCount int
	MaxRetries int
	Resolved   bool
}

// SourceErrorStat aggregates open/resolved error counts per source.
type SourceErrorStat struct {
	Source   string
	Open     int64
	Resolved int64
}

// RevenueOverride is an authoritative correction for a calendar date. It
// always wins over raw transaction aggregation for that date.
type RevenueOverride struct {
	VenueID       string
	Date          time.Time
	ActualRevenue decimal.Decimal
	CheckCount    *int64
}

// DailySummary is derived data, rebuilt from transactions and overrides
// after each successful cycle.
type DailySummary struct {
	VenueID          string
	Date             time.Time
	Revenue          decimal.Decimal
	TransactionCount int64
	UniqueCustomers  int64
	UpdatedAt        time.Time
}

// TransactionRecord is the persisted form of a normalized transaction,
// kept so customer history can be answered across cycles.
type TransactionRecord struct {
	ID            string
	VenueID       string
	Source        string
	TotalAmount   *decimal.Decimal
	Amount        *decimal.Decimal
	Currency      string
	CustomerID    string
	Timestamp     time.Time
	Category      string
	TxnType       string
	PaymentMethod string
}
