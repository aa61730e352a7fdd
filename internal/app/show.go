package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"venuewatch/internal/storage"
)

// Show prints recent snapshots and active alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.VenueID, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
	} else {
		printSnapshots(snapshots)
	}

	alerts, err := store.ListActiveAlerts(ctx, opts.VenueID, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no active alerts")
	} else {
		fmt.Fprintln(os.Stdout)
		printAlerts(alerts)
	}

	openErrors, err := store.ListOpenErrors(ctx, opts.VenueID, opts.Limit)
	if err != nil {
		return err
	}
	if len(openErrors) == 0 {
		fmt.Fprintln(os.Stdout, "no open source errors")
		return nil
	}
	fmt.Fprintln(os.Stdout)
	printOpenErrors(openErrors)
	return nil
}

func printSnapshots(snapshots []storage.Snapshot) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tVenue\tStatus\tSources\tRevenue\tTxns\tCustomers\tError")

	for _, snap := range snapshots {
		fetched := 0
		for _, ok := range snap.PerSourceFetched {
			if ok {
				fetched++
			}
		}
		errMsg := ""
		if snap.ErrorMessage != nil {
			errMsg = sanitizeInline(*snap.ErrorMessage)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d/%d\t%s\t%d\t%d\t%s\n",
			snap.StartedAt.UTC().Format(time.RFC3339),
			snap.VenueID,
			snap.Status,
			fetched,
			len(snap.PerSourceFetched),
			snap.TotalRevenue.StringFixed(2),
			snap.TransactionCount,
			snap.UniqueCustomers,
			errMsg,
		)
	}

	writer.Flush()
}

func printAlerts(alerts []storage.AlertRecord) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tVenue\tType\tSeverity\tMessage")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.VenueID,
			alert.Type,
			alert.Severity,
			sanitizeInline(alert.Message),
		)
	}
	writer.Flush()
}

func printOpenErrors(records []storage.IsolatedErrorRecord) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Occurred (UTC)\tVenue\tSource\tSeverity\tType\tRetries\tMessage")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.VenueID,
			rec.Source,
			rec.Severity,
			rec.ErrorType,
			rec.RetryCount,
			rec.MaxRetries,
			sanitizeInline(rec.Message),
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
