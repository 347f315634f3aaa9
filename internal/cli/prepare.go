package cli

import (
	"github.com/spf13/cobra"

	"hotel-cache-loss/internal/app"
	"hotel-cache-loss/internal/tiers"
)

var (
	partitionInput string
	partitionOut   string

	tiersInput      string
	tiersOut        string
	tiersPercentile float64
	tiersClusters   int
)

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Split raw observations into vendor/ttt/los bucket files",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Partition(app.PartitionOptions{
			Input:  partitionInput,
			OutDir: partitionOut,
		})
		return err
	},
}

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Cluster hotels of every bucket into price tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getApp().Config
		out := tiersOut
		if out == "" {
			out = cfg.Batch.TiersDir
		}
		_, err := getApp().BuildTiers(app.TiersOptions{
			InputDir:   tiersInput,
			OutDir:     out,
			Percentile: tiersPercentile,
			Clusters:   tiersClusters,
		})
		return err
	},
}

func init() {
	partitionCmd.Flags().StringVar(&partitionInput, "input", "", "Raw observation file keyed by hotel_vendor_ttt_los")
	partitionCmd.Flags().StringVar(&partitionOut, "out", "", "Directory for bucket files")

	tiersCmd.Flags().StringVar(&tiersInput, "input", "", "Directory of bucket files")
	tiersCmd.Flags().StringVar(&tiersOut, "out", "", "Directory for tier files (defaults to batch.tiers_dir)")
	tiersCmd.Flags().Float64Var(&tiersPercentile, "percentile", tiers.DefaultPercentile, "Percentile used to summarise each hotel")
	tiersCmd.Flags().IntVar(&tiersClusters, "clusters", tiers.DefaultClusters, "Number of price tiers")
}
