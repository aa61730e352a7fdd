package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"venuewatch/internal/app"
)

var (
	showVenue string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent snapshots and active alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			VenueID: showVenue,
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showVenue, "venue", "", "Venue to display (defaults to all venues)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
