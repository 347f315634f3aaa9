package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"hotel-cache-loss/internal/storage"
)

// Show prints recent loss runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return a.printRuns(runs)
}

func (a *App) printRuns(runs []storage.LossRun) error {
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tFinished (UTC)\tVendors\tHotels\tMean loss\tRefresh\tSkipped vendors")

	for _, run := range runs {
		refresh := "tiers"
		if run.RefreshOverride != nil {
			refresh = strconv.FormatFloat(*run.RefreshOverride, 'f', -1, 64) + "m"
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
			run.ID,
			run.FinishedAt.UTC().Format(time.RFC3339),
			run.Vendors,
			run.Hotels,
			run.MeanLoss.StringFixed(4),
			refresh,
			sanitizeInline(strings.Join(run.FailedVendors, ",")),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
