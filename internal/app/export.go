package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"

	"hotel-cache-loss/internal/lossmatrix"
)

// Export re-renders a persisted loss matrix as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	runID := opts.RunID
	if runID <= 0 {
		runID, err = store.LatestRunID(ctx)
		if err != nil {
			return err
		}
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	matrix, err := store.LoadMatrix(ctx, run.ID)
	if err != nil {
		return err
	}

	table := lossmatrix.Export(matrix)
	a.Logger.Info().Int64("run_id", run.ID).
		Int("vendors", len(table.Vendors)).
		Int("hotels", len(table.Hotels)).
		Msg("exporting loss matrix")

	return a.writeOutputs(table, opts.CSVPath, opts.PNGPath, a.Config.ResolveTopVendors(opts.TopVendors))
}

func (a *App) writeOutputs(table lossmatrix.Table, csvPath, pngPath string, top int) error {
	if csvPath != "" {
		if err := writeMatrixCSV(csvPath, table); err != nil {
			return err
		}
		a.Logger.Info().Str("path", csvPath).Msg("wrote loss matrix csv")
	}

	if pngPath != "" {
		means := lossmatrix.VendorMeans(table)
		if len(means) == 0 {
			a.Logger.Warn().Msg("no vendors to plot; skipping png")
			return nil
		}
		if top > 0 && len(means) > top {
			means = means[:top]
		}
		if err := writeVendorPNG(pngPath, means); err != nil {
			return err
		}
		a.Logger.Info().Str("path", pngPath).Int("vendors", len(means)).Msg("wrote vendor chart")
	}
	return nil
}

func writeMatrixCSV(path string, table lossmatrix.Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return lossmatrix.WriteCSV(file, table)
}

func writeVendorPNG(path string, means []lossmatrix.VendorMean) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bars := make([]chart.Value, len(means))
	maxMean := 1.0
	for i, m := range means {
		bars[i] = chart.Value{Label: m.Vendor, Value: m.Mean}
		if m.Mean > maxMean {
			maxMean = m.Mean
		}
	}

	graph := chart.BarChart{
		Title:    fmt.Sprintf("Top %d vendors by average loss", len(means)),
		Width:    1280,
		Height:   720,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 60, Bottom: 40},
		},
		YAxis: chart.YAxis{
			Name:  "Average loss",
			Range: &chart.ContinuousRange{Min: 0, Max: maxMean * 1.1},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
