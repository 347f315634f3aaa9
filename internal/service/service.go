package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotel-cache-loss/internal/aggregate"
	"hotel-cache-loss/internal/alerting"
	"hotel-cache-loss/internal/config"
	"hotel-cache-loss/internal/lossmatrix"
	"hotel-cache-loss/internal/observability"
	"hotel-cache-loss/internal/scheduler"
	"hotel-cache-loss/internal/storage"
)

// Runner produces one loss run.
type Runner interface {
	Run(ctx context.Context) (aggregate.Result, error)
}

// Outcome is everything one processed run produced.
type Outcome struct {
	Run     storage.LossRun
	Result  aggregate.Result
	Table   lossmatrix.Table
	Alerted bool
	// Skipped is set when another instance held the advisory lock.
	Skipped bool
}

// Service orchestrates loss runs, persistence, metrics, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	runner    Runner
	store     storage.RunStore
	notifier  alerting.Notifier
	metrics   *observability.Metrics
	logger    zerolog.Logger

	threshold  decimal.Decimal
	channels   []string
	alertsOn   bool
	topVendors int
	retention  time.Duration
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the service. sched, store, notifier and metrics may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, runner Runner, store storage.RunStore, notifier alerting.Notifier, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdLoss > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdLoss)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		runner:     runner,
		store:      store,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger.With().Str("component", "service").Logger(),
		threshold:  threshold,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		topVendors: cfg.Alerting.TopVendors,
		retention:  cfg.Database.Retention,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduled loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, slot time.Time) error {
		_, err := s.ProcessRun(ctx, slot)
		return err
	})
}

// ProcessRun 执行一次完整的损失计算。
func (s *Service) ProcessRun(ctx context.Context, slot time.Time) (Outcome, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip run because advisory lock held elsewhere")
		return Outcome{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.execute(ctx, slot)
}

func (s *Service) execute(ctx context.Context, slot time.Time) (Outcome, error) {
	started := time.Now()
	res, err := s.runner.Run(ctx)
	if err != nil {
		s.observeRun("failed", started, nil)
		return Outcome{}, fmt.Errorf("loss run: %w", err)
	}

	out := Outcome{Result: res, Table: lossmatrix.Export(res.Matrix)}
	out.Run = storage.LossRun{
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		Vendors:       len(out.Table.Vendors),
		Hotels:        len(out.Table.Hotels),
		MeanLoss:      res.Diagnostics.MeanLoss(),
		FailedVendors: failedVendors(res.Failures),
	}
	if o, ok := s.runner.(interface{ RefreshOverride() float64 }); ok && o.RefreshOverride() > 0 {
		minutes := o.RefreshOverride()
		out.Run.RefreshOverride = &minutes
	}

	if s.store != nil {
		saved, err := s.store.InsertRun(ctx, out.Run, res.Matrix)
		if err != nil {
			s.logger.Error().Err(err).Time("slot", slot).Msg("failed to persist loss run")
		} else {
			out.Run = saved
		}
		s.prune(ctx)
	}

	s.observeRun("complete", started, &out.Run)

	s.logger.Info().Time("slot", slot).
		Int64("run_id", out.Run.ID).
		Int("vendors", out.Run.Vendors).
		Int("hotels", out.Run.Hotels).
		Str("mean_loss", out.Run.MeanLoss.StringFixed(2)).
		Msg("loss run recorded")

	if s.shouldAlert(out.Run.MeanLoss) {
		out.Alerted = s.alert(ctx, out)
	}
	return out, nil
}

func (s *Service) shouldAlert(mean decimal.Decimal) bool {
	return s.alertsOn && s.notifier != nil && !s.threshold.IsZero() && mean.GreaterThan(s.threshold)
}

func (s *Service) alert(ctx context.Context, out Outcome) bool {
	note := alerting.Notification{
		RunID:         out.Run.ID,
		RunAt:         out.Run.FinishedAt,
		MeanLoss:      out.Run.MeanLoss,
		ThresholdLoss: s.threshold,
		Vendors:       out.Run.Vendors,
		Hotels:        out.Run.Hotels,
		FailedVendors: out.Run.FailedVendors,
		TopVendors:    topVendors(out.Table, s.topVendors),
		Channels:      s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Int64("run_id", out.Run.ID).Msg("failed to dispatch alert")
		return false
	}
	return true
}

func (s *Service) prune(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune old runs")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned old runs")
	}
}

func (s *Service) observeRun(status string, started time.Time, run *storage.LossRun) {
	if s.metrics == nil {
		return
	}
	s.metrics.RunsTotal.WithLabelValues(status).Inc()
	s.metrics.RunDuration.Observe(time.Since(started).Seconds())
	if run != nil {
		s.metrics.MeanLoss.Set(run.MeanLoss.InexactFloat64())
		s.metrics.LastSuccessfulRun.Set(float64(time.Now().Unix()))
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func failedVendors(failures []aggregate.VendorFailure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Vendor)
	}
	return out
}

func topVendors(table lossmatrix.Table, n int) []alerting.VendorLoss {
	means := lossmatrix.VendorMeans(table)
	if n > 0 && len(means) > n {
		means = means[:n]
	}
	out := make([]alerting.VendorLoss, len(means))
	for i, m := range means {
		out[i] = alerting.VendorLoss{Vendor: m.Vendor, Mean: decimal.NewFromFloat(m.Mean)}
	}
	return out
}
