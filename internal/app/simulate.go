package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"venuewatch/internal/alerting"
)

// SimulateAlert feeds a synthetic metrics snapshot through the alert
// pipeline. Nothing is persisted; alerts are printed and, when a channel is
// configured, dispatched.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	venueID, err := a.resolveVenue(opts.VenueID)
	if err != nil {
		return err
	}

	generator := alerting.NewGenerator(alerting.DefaultRules(a.Config.Alerting), a.Logger)

	metrics := alerting.Metrics{
		VenueID:         venueID,
		CycleTime:       time.Now().UTC(),
		CurrentRevenue:  opts.CurrentRevenue,
		PreviousRevenue: opts.PreviousRevenue,
		TicketsSold:     opts.TicketsSold,
		SourcesFetched:  len(a.Config.Sources),
		SourcesTotal:    len(a.Config.Sources),
	}

	alerts := generator.GenerateAlerts(metrics)
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no rule fired for the given metrics")
		return nil
	}

	notifier := a.newNotifier()
	for _, alert := range alerts {
		fmt.Fprintf(os.Stdout, "[%s] %s: %s (priority %d)\n", alert.Severity, alert.Type, alert.Message, alerting.Priority(alert))
		if notifier != nil {
			if err := notifier.Notify(ctx, alert); err != nil {
				a.Logger.Error().Err(err).Str("type", alert.Type).Msg("failed to dispatch simulated alert")
			}
		}
	}
	return nil
}
