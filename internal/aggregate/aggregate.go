package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hotel-cache-loss/internal/dataset"
	"hotel-cache-loss/internal/lossmatrix"
	"hotel-cache-loss/internal/observability"
	"hotel-cache-loss/internal/simulator"
)

// ErrNoVendors is returned when the source lists no vendor at all.
var ErrNoVendors = errors.New("aggregate: no vendor files found")

// Failure stages.
const (
	StageTiers  = "tiers"
	StageSeries = "series"
)

// Options tune a batch run.
type Options struct {
	Simulation            simulator.Config
	DefaultRefreshMinutes float64
	// RefreshOverride, when positive, replaces every hotel's tier-derived interval.
	RefreshOverride float64
	Workers         int
}

// VendorFailure records a vendor that was left out of the matrix.
type VendorFailure struct {
	Vendor string
	Stage  string
	Err    error
}

// Diagnostics summarises a run. None of it is part of the exported matrix.
type Diagnostics struct {
	TotalLoss   decimal.Decimal
	HotelCount  int64
	Skips       int64
	Countable   int64
	FallbackHit int64
}

// MeanLoss is the batch-wide mean of per-hotel losses.
func (d Diagnostics) MeanLoss() decimal.Decimal {
	if d.HotelCount == 0 {
		return decimal.Zero
	}
	return d.TotalLoss.Div(decimal.NewFromInt(d.HotelCount))
}

func (d *Diagnostics) add(o Diagnostics) {
	d.TotalLoss = d.TotalLoss.Add(o.TotalLoss)
	d.HotelCount += o.HotelCount
	d.Skips += o.Skips
	d.Countable += o.Countable
	d.FallbackHit += o.FallbackHit
}

// Result is the outcome of one batch run.
type Result struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Matrix      lossmatrix.Matrix
	Diagnostics Diagnostics
	// Failures is sorted by vendor.
	Failures []VendorFailure
}

// Aggregator simulates every hotel of every vendor and collects the losses.
type Aggregator struct {
	source  dataset.Source
	opts    Options
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New constructs an aggregator. metrics may be nil.
func New(source dataset.Source, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Aggregator {
	if opts.DefaultRefreshMinutes <= 0 {
		opts.DefaultRefreshMinutes = dataset.DefaultRefreshMinutes
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Aggregator{
		source:  source,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// WithRefreshOverride returns a copy running every hotel at the given interval.
func (a *Aggregator) WithRefreshOverride(minutes float64) *Aggregator {
	clone := *a
	clone.opts.RefreshOverride = minutes
	return &clone
}

// RefreshOverride reports the run-wide refresh interval, or 0 when tiers apply.
func (a *Aggregator) RefreshOverride() float64 {
	return a.opts.RefreshOverride
}

// Run processes every vendor. A vendor whose tier or series file cannot be read is
// skipped and reported in Result.Failures; only context cancellation aborts the run.
func (a *Aggregator) Run(ctx context.Context) (Result, error) {
	res := Result{StartedAt: time.Now().UTC(), Matrix: lossmatrix.Matrix{}}

	vendors, err := a.source.Vendors(ctx)
	if err != nil {
		return res, fmt.Errorf("list vendors: %w", err)
	}
	if len(vendors) == 0 {
		return res, ErrNoVendors
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for _, vendor := range vendors {
		vendor := vendor
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			hotels, diag, failure := a.processVendor(gctx, vendor)

			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				res.Failures = append(res.Failures, *failure)
				return nil
			}
			res.Matrix[vendor] = hotels
			res.Diagnostics.add(diag)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Vendor < res.Failures[j].Vendor })
	res.FinishedAt = time.Now().UTC()

	a.logger.Info().
		Int("vendors", len(res.Matrix)).
		Int("failed_vendors", len(res.Failures)).
		Int64("hotels", res.Diagnostics.HotelCount).
		Str("mean_loss", res.Diagnostics.MeanLoss().StringFixed(2)).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("loss run complete")

	return res, nil
}

func (a *Aggregator) processVendor(ctx context.Context, vendor string) (map[string]int64, Diagnostics, *VendorFailure) {
	var diag Diagnostics

	var tiers dataset.TierLookup
	if a.opts.RefreshOverride <= 0 {
		var err error
		tiers, err = a.source.Tiers(ctx, vendor)
		if err != nil {
			return nil, diag, a.fail(vendor, StageTiers, err)
		}
	}

	entries, err := a.source.Series(ctx, vendor)
	if err != nil {
		return nil, diag, a.fail(vendor, StageSeries, err)
	}

	hotels := make(map[string]int64, len(entries))
	for _, entry := range entries {
		refresh := a.opts.RefreshOverride
		if refresh <= 0 {
			if _, ok := tiers[entry.Hotel]; !ok {
				diag.FallbackHit++
			}
			refresh = tiers.RefreshMinutes(entry.Hotel, a.opts.DefaultRefreshMinutes)
		}

		sim := simulator.Simulate(entry.Series, refresh, a.opts.Simulation)
		hotels[entry.Hotel] = sim.Loss

		diag.TotalLoss = diag.TotalLoss.Add(decimal.NewFromInt(sim.Loss))
		diag.HotelCount++
		diag.Skips += int64(sim.Skips)
		diag.Countable += int64(sim.Countable)

		if a.metrics != nil {
			a.metrics.SeriesSimulated.Inc()
			a.metrics.SamplesSkipped.Add(float64(sim.Skips))
			a.metrics.SamplesCounted.Add(float64(sim.Countable))
		}
	}

	if a.metrics != nil {
		a.metrics.VendorsProcessed.Inc()
	}
	a.logger.Debug().Str("vendor", vendor).Int("hotels", len(hotels)).Msg("vendor simulated")
	return hotels, diag, nil
}

func (a *Aggregator) fail(vendor, stage string, err error) *VendorFailure {
	a.logger.Warn().Err(err).Str("vendor", vendor).Str("stage", stage).Msg("skipping vendor")
	if a.metrics != nil {
		a.metrics.VendorFailures.WithLabelValues(stage).Inc()
	}
	return &VendorFailure{Vendor: vendor, Stage: stage, Err: err}
}

// FailureReport renders failures as sorted one-line messages.
func FailureReport(failures []VendorFailure) []string {
	if len(failures) == 0 {
		return nil
	}
	lines := make([]string, len(failures))
	for i, f := range failures {
		lines[i] = fmt.Sprintf("vendor %s skipped at %s: %v", f.Vendor, f.Stage, f.Err)
	}
	return lines
}
