package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"venuewatch/internal/app"
)

var (
	simulateVenue    string
	simulateCurrent  float64
	simulatePrevious float64
	simulateTickets  int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed synthetic metrics through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCurrent < 0 || simulatePrevious < 0 {
			return errors.New("--current and --previous cannot be negative")
		}

		opts := app.SimulateOptions{
			VenueID:         simulateVenue,
			CurrentRevenue:  decimal.NewFromFloat(simulateCurrent),
			PreviousRevenue: decimal.NewFromFloat(simulatePrevious),
			TicketsSold:     simulateTickets,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateVenue, "venue", "", "Venue the simulated metrics belong to")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current period revenue")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Previous period revenue")
	simulateCmd.Flags().Int64Var(&simulateTickets, "tickets", 0, "Tickets sold in the current period")
}
