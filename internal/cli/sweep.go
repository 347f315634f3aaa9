package cli

import (
	"github.com/spf13/cobra"

	"hotel-cache-loss/internal/app"
)

var (
	sweepRates   []float64
	sweepWorkers int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Compare the mean loss across fixed refresh intervals",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SweepOptions{
			Rates:   sweepRates,
			Workers: sweepWorkers,
		}

		_, err := getApp().Sweep(cmd.Context(), opts)
		return err
	},
}

func init() {
	sweepCmd.Flags().Float64SliceVar(&sweepRates, "rates", app.DefaultSweepRates, "Refresh intervals in minutes")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "Concurrent vendors (defaults to batch.workers)")
}
