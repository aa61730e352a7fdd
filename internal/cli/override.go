package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"venuewatch/internal/app"
)

var (
	overrideVenue   string
	overrideDate    string
	overrideRevenue string
	overrideChecks  int64
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Record an authoritative revenue correction for one date",
	RunE: func(cmd *cobra.Command, args []string) error {
		if overrideDate == "" || overrideRevenue == "" {
			return fmt.Errorf("--date and --revenue must be provided")
		}

		date, err := time.Parse("2006-01-02", overrideDate)
		if err != nil {
			return fmt.Errorf("invalid --date value: %w", err)
		}

		revenue, err := decimal.NewFromString(overrideRevenue)
		if err != nil {
			return fmt.Errorf("invalid --revenue value: %w", err)
		}

		opts := app.OverrideOptions{
			VenueID: overrideVenue,
			Date:    date,
			Revenue: revenue,
		}
		if cmd.Flags().Changed("checks") {
			checks := overrideChecks
			opts.CheckCount = &checks
		}

		return getApp().SetOverride(cmd.Context(), opts)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an open alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResolveAlert(cmd.Context(), args[0])
	},
}

func init() {
	overrideCmd.Flags().StringVar(&overrideVenue, "venue", "", "Venue the override belongs to (defaults to first configured venue)")
	overrideCmd.Flags().StringVar(&overrideDate, "date", "", "Calendar date of the override (YYYY-MM-DD)")
	overrideCmd.Flags().StringVar(&overrideRevenue, "revenue", "", "Actual revenue for the date")
	overrideCmd.Flags().Int64Var(&overrideChecks, "checks", 0, "Actual check count for the date (optional)")
}
