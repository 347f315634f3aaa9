package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hotel-cache-loss/internal/partition"
	"hotel-cache-loss/internal/tiers"
)

// Partition splits the raw observation file into one file per vendor bucket.
func (a *App) Partition(opts PartitionOptions) (partition.Report, error) {
	if opts.Input == "" || opts.OutDir == "" {
		return partition.Report{}, errors.New("--input and --out are required")
	}

	raw, err := partition.LoadRaw(opts.Input)
	if err != nil {
		return partition.Report{}, err
	}

	groups, rejected := partition.Group(raw)
	for _, key := range rejected {
		a.Logger.Warn().Str("key", key).Msg("skipping malformed observation key")
	}

	paths, err := partition.Write(opts.OutDir, groups)
	if err != nil {
		return partition.Report{}, err
	}

	report := partition.Check(groups)
	a.Logger.Info().Int("buckets", len(paths)).Int("rejected", len(rejected)).Str("out", opts.OutDir).Msg("partition complete")

	fmt.Fprintf(a.Out, "files=%d less_than_10=%d over_30=%d over_50=%d\n",
		report.Files, report.LessThan10, report.Over30, report.Over50)
	for _, b := range report.Over50Bucket {
		fmt.Fprintln(a.Out, "over 50:", b)
	}
	return report, nil
}

// BuildTiers clusters every bucket file of the input directory and writes a tier
// file with the same name to the output directory. It returns the written buckets.
func (a *App) BuildTiers(opts TiersOptions) ([]string, error) {
	if opts.InputDir == "" || opts.OutDir == "" {
		return nil, errors.New("--input and --out are required")
	}

	entries, err := os.ReadDir(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("list bucket dir: %w", err)
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, err
	}

	buildOpts := tiers.Options{Percentile: opts.Percentile, Clusters: opts.Clusters}
	written := make([]string, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		values, err := tiers.LoadBucket(filepath.Join(opts.InputDir, e.Name()))
		if err != nil {
			return written, err
		}

		assignment, err := tiers.Build(values, buildOpts)
		if errors.Is(err, tiers.ErrTooFewHotels) {
			skipped++
			a.Logger.Debug().Str("bucket", e.Name()).Int("hotels", len(values)).Msg("bucket too small to cluster")
			continue
		}
		if err != nil {
			return written, fmt.Errorf("bucket %s: %w", e.Name(), err)
		}

		if err := tiers.WriteTierFile(filepath.Join(opts.OutDir, e.Name()), assignment); err != nil {
			return written, fmt.Errorf("write tiers %s: %w", e.Name(), err)
		}
		written = append(written, e.Name())
	}
	sort.Strings(written)

	a.Logger.Info().Int("written", len(written)).Int("skipped", skipped).Str("out", opts.OutDir).Msg("tier build complete")
	return written, nil
}
