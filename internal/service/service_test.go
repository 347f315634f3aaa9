package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-cache-loss/internal/aggregate"
	"hotel-cache-loss/internal/alerting"
	"hotel-cache-loss/internal/config"
	"hotel-cache-loss/internal/dataset"
	"hotel-cache-loss/internal/lossmatrix"
	"hotel-cache-loss/internal/observability"
	"hotel-cache-loss/internal/simulator"
	"hotel-cache-loss/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	runs      []storage.LossRun
	matrices  []lossmatrix.Matrix
	pruned    int
	insertErr error

	lockHeld bool
	unlocked int
}

func (f *fakeStore) InsertRun(ctx context.Context, run storage.LossRun, matrix lossmatrix.Matrix) (storage.LossRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return storage.LossRun{}, f.insertErr
	}
	run.ID = int64(len(f.runs) + 1)
	run.CreatedAt = time.Now().UTC()
	f.runs = append(f.runs, run)
	f.matrices = append(f.matrices, matrix)
	return run, nil
}

func (f *fakeStore) ListRecentRuns(ctx context.Context, limit int) ([]storage.LossRun, error) {
	return f.runs, nil
}

func (f *fakeStore) GetRun(ctx context.Context, id int64) (storage.LossRun, error) {
	return storage.LossRun{}, storage.ErrRunNotFound
}

func (f *fakeStore) LatestRunID(ctx context.Context) (int64, error) {
	return int64(len(f.runs)), nil
}

func (f *fakeStore) LoadMatrix(ctx context.Context, runID int64) (lossmatrix.Matrix, error) {
	return nil, storage.ErrRunNotFound
}

func (f *fakeStore) DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	return 0, nil
}

func (f *fakeStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if f.lockHeld {
		return nil, false, nil
	}
	return func() { f.unlocked++ }, true, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return r.err
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context) (aggregate.Result, error) {
	return aggregate.Result{}, aggregate.ErrNoVendors
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.ThresholdLoss = 4
	cfg.Alerting.TopVendors = 1
	cfg.Alerting.Channels = []string{"telegram"}
	cfg.Database.Retention = 24 * time.Hour
	cfg.Scheduler.AdvisoryLockKey = 42
	return cfg
}

func testRunner() Runner {
	src := &dataset.MemorySource{
		SeriesByVendor: map[string][]dataset.HotelSeries{
			"v1": {{Hotel: "h1", Series: simulator.Series{{Timestamp: 0, Price: 100}, {Timestamp: 50, Price: 120}}}},
			"v2": {{Hotel: "h2", Series: simulator.Series{{Timestamp: 0, Price: 10}}}},
		},
		TiersByVendor: map[string]dataset.TierLookup{"v1": {"h1": 250}, "v2": {}},
	}
	return aggregate.New(src, aggregate.Options{
		Simulation:            simulator.DefaultConfig(),
		DefaultRefreshMinutes: dataset.DefaultRefreshMinutes,
		Workers:               2,
	}, nil, zerolog.Nop())
}

func TestProcessRunPersistsAndAlerts(t *testing.T) {
	store := &fakeStore{}
	notifier := &recordingNotifier{}
	metrics := observability.NewMetrics("test")
	svc := New(testConfig(), nil, testRunner(), store, notifier, metrics, zerolog.Nop())

	out, err := svc.ProcessRun(context.Background(), time.Now())
	require.NoError(t, err)

	assert.False(t, out.Skipped)
	assert.Equal(t, int64(1), out.Run.ID)
	assert.Equal(t, 2, out.Run.Vendors)
	assert.Equal(t, 2, out.Run.Hotels)
	assert.Equal(t, "7.50", out.Run.MeanLoss.StringFixed(2))
	assert.Equal(t, []string{"v1", "v2"}, out.Table.Vendors)

	require.Len(t, store.runs, 1)
	assert.Equal(t, lossmatrix.Matrix{"v1": {"h1": 15}, "v2": {"h2": 0}}, store.matrices[0])
	assert.Equal(t, 1, store.pruned)
	assert.Equal(t, 1, store.unlocked)

	require.True(t, out.Alerted)
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, int64(1), note.RunID)
	require.Len(t, note.TopVendors, 1)
	assert.Equal(t, "v1", note.TopVendors[0].Vendor)
	assert.Equal(t, "15.00", note.TopVendors[0].Mean.StringFixed(2))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("complete")))
	assert.Equal(t, 7.5, testutil.ToFloat64(metrics.MeanLoss))
}

func TestProcessRunBelowThresholdDoesNotAlert(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.ThresholdLoss = 100
	notifier := &recordingNotifier{}
	svc := New(cfg, nil, testRunner(), nil, notifier, nil, zerolog.Nop())

	out, err := svc.ProcessRun(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, out.Alerted)
	assert.Empty(t, notifier.notes)
	assert.Zero(t, out.Run.ID)
}

func TestProcessRunSkipsWhenLockHeld(t *testing.T) {
	store := &fakeStore{lockHeld: true}
	svc := New(testConfig(), nil, testRunner(), store, nil, nil, zerolog.Nop())

	out, err := svc.ProcessRun(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, store.runs)
}

func TestProcessRunPersistFailureStillAlerts(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	notifier := &recordingNotifier{}
	svc := New(testConfig(), nil, testRunner(), store, notifier, nil, zerolog.Nop())

	out, err := svc.ProcessRun(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, out.Run.ID)
	assert.True(t, out.Alerted)
}

func TestProcessRunNotifierError(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	svc := New(testConfig(), nil, testRunner(), nil, notifier, nil, zerolog.Nop())

	out, err := svc.ProcessRun(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, out.Alerted)
	assert.Len(t, notifier.notes, 1)
}

func TestProcessRunRunnerError(t *testing.T) {
	metrics := observability.NewMetrics("test")
	svc := New(testConfig(), nil, failingRunner{}, nil, nil, metrics, zerolog.Nop())

	_, err := svc.ProcessRun(context.Background(), time.Now())
	require.ErrorIs(t, err, aggregate.ErrNoVendors)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("failed")))
}

func TestRunWithoutScheduler(t *testing.T) {
	svc := New(testConfig(), nil, testRunner(), nil, nil, nil, zerolog.Nop())
	require.Error(t, svc.Run(context.Background()))
}
