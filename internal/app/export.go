package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"venuewatch/internal/storage"
)

// Export renders a venue's daily summaries as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	venueID, err := a.resolveVenue(opts.VenueID)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -90)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	summaries, err := store.ListDailySummariesBetween(ctx, venueID, from, to)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		a.Logger.Info().Str("venue_id", venueID).Msg("no summaries found for export window")
		return nil
	}

	downsampled := downsampleSummaries(summaries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(summaries)).Int("exported", len(downsampled)).Msg("exporting summaries")

	if opts.CSVPath != "" {
		if err := writeSummariesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSummariesPNG(opts.PNGPath, venueID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSummaries(summaries []storage.DailySummary, max int) []storage.DailySummary {
	if max <= 0 || len(summaries) <= max {
		return summaries
	}

	result := make([]storage.DailySummary, 0, max)
	step := float64(len(summaries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(summaries) {
			idx = len(summaries) - 1
		}
		result = append(result, summaries[idx])
	}
	return result
}

func writeSummariesCSV(path string, summaries []storage.DailySummary) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "venue_id", "revenue", "transaction_count", "unique_customers"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, summary := range summaries {
		record := []string{
			summary.Date.Format("2006-01-02"),
			summary.VenueID,
			summary.Revenue.String(),
			fmtInt(summary.TransactionCount),
			fmtInt(summary.UniqueCustomers),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSummariesPNG(path, venueID string, summaries []storage.DailySummary) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(summaries))
	revenue := make([]float64, len(summaries))
	transactions := make([]float64, len(summaries))

	for i, summary := range summaries {
		x[i] = summary.Date
		revenue[i] = summary.Revenue.InexactFloat64()
		transactions[i] = float64(summary.TransactionCount)
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  "Daily revenue: " + venueID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Revenue",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Transactions",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Revenue",
				XValues: x,
				YValues: revenue,
			},
			chart.TimeSeries{
				Name:    "Transactions",
				XValues: x,
				YValues: transactions,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func fmtInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
