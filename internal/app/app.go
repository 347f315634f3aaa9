package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"hotel-cache-loss/internal/aggregate"
	"hotel-cache-loss/internal/alerting"
	"hotel-cache-loss/internal/config"
	"hotel-cache-loss/internal/dataset"
	"hotel-cache-loss/internal/observability"
	"hotel-cache-loss/internal/scheduler"
	"hotel-cache-loss/internal/service"
	"hotel-cache-loss/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives human-readable reports. Defaults to stdout.
	Out io.Writer

	source dataset.Source
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

// WithSource replaces the file-backed vendor source.
func (a *App) WithSource(src dataset.Source) *App {
	a.source = src
	return a
}

func (a *App) newSource() dataset.Source {
	if a.source != nil {
		return a.source
	}
	return dataset.NewDirSource(a.Config.Batch.VendorsDir, a.Config.Batch.TiersDir)
}

func (a *App) newAggregator(metrics *observability.Metrics, refreshOverride float64, workers int) *aggregate.Aggregator {
	if workers <= 0 {
		workers = a.Config.Batch.Workers
	}
	return aggregate.New(a.newSource(), aggregate.Options{
		Simulation:            a.Config.Simulation,
		DefaultRefreshMinutes: a.Config.Batch.DefaultRefreshMinutes,
		RefreshOverride:       refreshOverride,
		Workers:               workers,
	}, metrics, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// Run executes the long-running scheduled loss service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var metrics *observability.Metrics
	if a.Config.Metrics.Enabled {
		metrics = observability.NewMetrics(a.Config.Metrics.Namespace)
		stop := a.serveMetrics(metrics)
		defer stop()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	var runStore storage.RunStore
	if store != nil {
		runStore = store
	}

	svc := service.New(a.Config, sched, a.newAggregator(metrics, 0, 0), runStore, a.newNotifier(), metrics, a.Logger)

	a.Logger.Info().Str("vendors_dir", a.Config.Batch.VendorsDir).Msg("starting loss service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("loss service stopped")
	return nil
}

func (a *App) serveMetrics(metrics *observability.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// SimulateOptions configure a one-shot loss run.
type SimulateOptions struct {
	CSVPath         string
	PNGPath         string
	TopVendors      int
	RefreshOverride float64
	Persist         bool
	Alert           bool
}

// ExportOptions select a persisted run and the output files.
type ExportOptions struct {
	RunID      int64
	CSVPath    string
	PNGPath    string
	TopVendors int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SweepOptions configure a refresh-interval sweep.
type SweepOptions struct {
	Rates   []float64
	Workers int
}

// PartitionOptions configure the raw observation split.
type PartitionOptions struct {
	Input  string
	OutDir string
}

// TiersOptions configure the tier build.
type TiersOptions struct {
	InputDir   string
	OutDir     string
	Percentile float64
	Clusters   int
}
