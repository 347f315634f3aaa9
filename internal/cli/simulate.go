package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"hotel-cache-loss/internal/app"
)

var (
	simulateCSVPath string
	simulatePNGPath string
	simulateTop     int
	simulateRefresh float64
	simulatePersist bool
	simulateAlert   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "对所有供应商执行一次缓存损失计算",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateRefresh < 0 {
			return errors.New("--refresh 不能为负数")
		}

		opts := app.SimulateOptions{
			CSVPath:         simulateCSVPath,
			PNGPath:         simulatePNGPath,
			TopVendors:      simulateTop,
			RefreshOverride: simulateRefresh,
			Persist:         simulatePersist,
			Alert:           simulateAlert,
		}

		_, err := getApp().Simulate(cmd.Context(), opts)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCSVPath, "csv", "", "Path to write the hotel x vendor loss matrix (defaults to config)")
	simulateCmd.Flags().StringVar(&simulatePNGPath, "png", "", "Path to write the top vendor chart (defaults to config)")
	simulateCmd.Flags().IntVar(&simulateTop, "top", 0, "Vendors to plot (defaults to config)")
	simulateCmd.Flags().Float64Var(&simulateRefresh, "refresh", 0, "刷新间隔（分钟），覆盖分层结果；0 表示使用分层文件")
	simulateCmd.Flags().BoolVar(&simulatePersist, "persist", false, "Store the run in the database")
	simulateCmd.Flags().BoolVar(&simulateAlert, "alert", false, "Send an alert when the mean loss exceeds the threshold")
}
