package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"venuewatch/internal/connector"
	"venuewatch/internal/kpi"
	"venuewatch/internal/storage"
)

// Refresher recomputes derived daily summaries from normalized records.
// It implements orchestrator.SummaryRefresher.
type Refresher struct {
	calc      *kpi.Calculator
	summaries storage.SummaryStore
	logger    zerolog.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(calc *kpi.Calculator, summaries storage.SummaryStore, logger zerolog.Logger) *Refresher {
	return &Refresher{
		calc:      calc,
		summaries: summaries,
		logger:    logger.With().Str("component", "summary_refresher").Logger(),
	}
}

// RefreshDailySummaries recomputes one summary per calendar date of the
// window. Overrides are applied inside the KPI calculation, so the stored
// summary always reflects authoritative revenue.
func (r *Refresher) RefreshDailySummaries(ctx context.Context, venueID string, from, to time.Time, records []connector.Transaction) error {
	if r.summaries == nil || r.calc == nil {
		return nil
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for day := start; day.Before(to); day = day.AddDate(0, 0, 1) {
		daily, err := r.calc.Daily(ctx, venueID, day, records)
		if err != nil {
			return fmt.Errorf("compute daily kpi for %s: %w", day.Format("2006-01-02"), err)
		}
		summary := storage.DailySummary{
			VenueID:          venueID,
			Date:             day,
			Revenue:          daily.Revenue.Total,
			TransactionCount: daily.Transactions.Count,
			UniqueCustomers:  daily.Customers.Unique,
			UpdatedAt:        time.Now().UTC(),
		}
		if err := r.summaries.UpsertDailySummary(ctx, summary); err != nil {
			return fmt.Errorf("upsert daily summary for %s: %w", day.Format("2006-01-02"), err)
		}
	}
	return nil
}
