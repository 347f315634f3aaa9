package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
)

// DefaultSweepRates are the refresh intervals, in minutes, tried when none are given.
var DefaultSweepRates = []float64{50, 100, 150, 200, 250, 300, 350}

// SweepPoint is the batch mean loss at one refresh interval.
type SweepPoint struct {
	RefreshMinutes float64
	MeanLoss       decimal.Decimal
	Hotels         int64
	FailedVendors  int
}

// Sweep reruns the batch once per refresh interval, ignoring tier assignments.
func (a *App) Sweep(ctx context.Context, opts SweepOptions) ([]SweepPoint, error) {
	rates := opts.Rates
	if len(rates) == 0 {
		rates = DefaultSweepRates
	}
	for _, r := range rates {
		if r <= 0 {
			return nil, fmt.Errorf("refresh rate %v 不合法，必须大于 0", r)
		}
	}

	base := a.newAggregator(nil, 0, opts.Workers)

	points := make([]SweepPoint, 0, len(rates))
	failed := 0
	for _, rate := range rates {
		select {
		case <-ctx.Done():
			return points, ctx.Err()
		default:
		}

		res, err := base.WithRefreshOverride(rate).Run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return points, err
			}
			failed++
			a.Logger.Error().Err(err).Float64("refresh_minutes", rate).Msg("sweep 运行失败")
			continue
		}
		points = append(points, SweepPoint{
			RefreshMinutes: rate,
			MeanLoss:       res.Diagnostics.MeanLoss(),
			Hotels:         res.Diagnostics.HotelCount,
			FailedVendors:  len(res.Failures),
		})
	}

	a.Logger.Info().Int("processed", len(points)).Int("failed", failed).Msg("sweep 完成")
	if err := a.printSweep(points); err != nil {
		return points, err
	}
	if failed > 0 {
		return points, errors.New("部分 refresh rate 运行失败，请检查日志")
	}
	return points, nil
}

func (a *App) printSweep(points []SweepPoint) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Refresh (min)\tMean loss\tHotels\tSkipped vendors")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\n",
			strconv.FormatFloat(p.RefreshMinutes, 'f', -1, 64),
			p.MeanLoss.StringFixed(4),
			p.Hotels,
			p.FailedVendors,
		)
	}
	return writer.Flush()
}
