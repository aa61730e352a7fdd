package kpi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularities supported by the calculator.
const (
	GranularityDaily   = "daily"
	GranularityWeekly  = "weekly"
	GranularityMonthly = "monthly"
)

// CategoryRevenue is one row of the per-category breakdown, sorted by
// descending revenue.
type CategoryRevenue struct {
	Category string
	Revenue  decimal.Decimal
}

// RevenueMetrics holds the revenue side of a KPI window.
//
// Hourly is always reconstructed from raw transactions, even for dates
// covered by an override. When an override is present sum(Hourly) may not
// equal Total; that mismatch is accepted, the hourly view is best-effort.
type RevenueMetrics struct {
	Total      decimal.Decimal
	BySource   map[string]decimal.Decimal
	Hourly     [24]decimal.Decimal
	ByCategory []CategoryRevenue
}

// TransactionMetrics holds transaction counts and the recomputed average.
type TransactionMetrics struct {
	Count           int64
	Average         decimal.Decimal
	BySource        map[string]int64
	ByPaymentMethod map[string]int64
}

// CustomerSpend is one entry of the top-spender ranking.
type CustomerSpend struct {
	CustomerID string
	Total      decimal.Decimal
	Visits     int64
}

// CustomerMetrics partitions window customers into new and returning.
// Unique == New + Returning by construction.
type CustomerMetrics struct {
	Unique      int64
	New         int64
	Returning   int64
	TopSpenders []CustomerSpend
}

// DayBucket is the per-calendar-date accumulator. Every date of the window
// gets a bucket, so "no data" and "zero revenue" stay distinguishable.
type DayBucket struct {
	Date             time.Time
	Revenue          decimal.Decimal
	TransactionCount int64
	HasData          bool
	Overridden       bool
}

// KPI is the computed result for one window at one granularity.
type KPI struct {
	VenueID      string
	Granularity  string
	WindowStart  time.Time
	WindowEnd    time.Time
	Days         []DayBucket
	Revenue      RevenueMetrics
	Transactions TransactionMetrics
	Customers    CustomerMetrics
}

// RealtimeMetrics is ephemeral: recomputed on demand from today plus the
// trailing hour, never persisted.
type RealtimeMetrics struct {
	VenueID                  string
	TodayRevenue             decimal.Decimal
	TodayTransactions        int64
	TrailingHourRevenue      decimal.Decimal
	TrailingHourTransactions int64
	ComputedAt               time.Time
}
