package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"venuewatch/internal/storage"
)

// OverrideOptions set an authoritative revenue correction for one date.
type OverrideOptions struct {
	VenueID    string
	Date       time.Time
	Revenue    decimal.Decimal
	CheckCount *int64
}

// SetOverride records a revenue override. The next KPI computation covering
// the date reports the override value instead of the raw aggregate.
func (a *App) SetOverride(ctx context.Context, opts OverrideOptions) error {
	venueID, err := a.resolveVenue(opts.VenueID)
	if err != nil {
		return err
	}
	if opts.Revenue.IsNegative() {
		return errors.New("override revenue cannot be negative")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot set override")
	}
	if closeStore != nil {
		defer closeStore()
	}

	date := dayStart(opts.Date)
	if err := store.UpsertOverride(ctx, storage.RevenueOverride{
		VenueID:       venueID,
		Date:          date,
		ActualRevenue: opts.Revenue,
		CheckCount:    opts.CheckCount,
	}); err != nil {
		return err
	}

	a.Logger.Info().
		Str("venue_id", venueID).
		Str("date", date.Format("2006-01-02")).
		Str("revenue", opts.Revenue.String()).
		Msg("revenue override recorded")
	return nil
}

// ResolveAlert marks an open alert resolved.
func (a *App) ResolveAlert(ctx context.Context, alertID string) error {
	if alertID == "" {
		return errors.New("alert id is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot resolve alert")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.ResolveAlert(ctx, alertID); err != nil {
		return err
	}
	a.Logger.Info().Str("alert_id", alertID).Msg("alert resolved")
	return nil
}
