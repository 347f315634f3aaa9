package cli

import (
	"github.com/spf13/cobra"

	"hotel-cache-loss/internal/app"
)

var (
	exportRunID   int64
	exportPNGPath string
	exportCSVPath string
	exportTop     int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored loss matrix as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			RunID:      exportRunID,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			TopVendors: exportTop,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportRunID, "run", 0, "Run id to export (defaults to the latest run)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportTop, "top", 0, "Vendors to plot (defaults to config)")
}
