package app

import (
	"context"
	"errors"
	"time"

	"venuewatch/internal/connector"
	"venuewatch/internal/kpi"
	"venuewatch/internal/service"
	"venuewatch/internal/storage"
)

// Backfill recomputes daily summaries over a historical range from the
// transaction log, re-applying any overrides recorded since.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	venueID, err := a.resolveVenue(opts.VenueID)
	if err != nil {
		return err
	}

	from := dayStart(opts.From)
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("backfill range is empty, check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot backfill")
	}
	if closeStore != nil {
		defer closeStore()
	}

	logged, err := store.ListTransactionsBetween(ctx, venueID, from, to)
	if err != nil {
		return err
	}
	records := fromRecords(logged)

	calc := kpi.NewCalculator(store, store, a.Logger)

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
		processed := 0
		for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
			daily, err := calc.Daily(ctx, venueID, day, records)
			if err != nil {
				return err
			}
			a.Logger.Info().
				Str("date", day.Format("2006-01-02")).
				Str("revenue", daily.Revenue.Total.String()).
				Int64("transactions", daily.Transactions.Count).
				Msg("would write daily summary")
			processed++
		}
		a.Logger.Info().Int("processed", processed).Msg("backfill dry-run complete")
		return nil
	}

	refresher := service.NewRefresher(calc, store, a.Logger)
	if err := refresher.RefreshDailySummaries(ctx, venueID, from, to, records); err != nil {
		return err
	}

	a.Logger.Info().
		Str("venue_id", venueID).
		Time("from", from).
		Time("to", to).
		Int("transactions", len(records)).
		Msg("backfill complete")
	return nil
}

func fromRecords(logged []storage.TransactionRecord) []connector.Transaction {
	records := make([]connector.Transaction, 0, len(logged))
	for _, rec := range logged {
		records = append(records, connector.Transaction{
			ID:              rec.ID,
			Source:          rec.Source,
			TotalAmount:     rec.TotalAmount,
			Amount:          rec.Amount,
			Currency:        rec.Currency,
			CustomerID:      rec.CustomerID,
			Timestamp:       rec.Timestamp,
			Category:        rec.Category,
			TransactionType: rec.TxnType,
			PaymentMethod:   rec.PaymentMethod,
		})
	}
	return records
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
