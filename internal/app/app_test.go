package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-cache-loss/internal/config"
	"hotel-cache-loss/internal/dataset"
	"hotel-cache-loss/internal/simulator"
	"hotel-cache-loss/internal/storage"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Simulation = simulator.DefaultConfig()
	cfg.Batch.Workers = 2
	cfg.Batch.DefaultRefreshMinutes = dataset.DefaultRefreshMinutes
	cfg.Scheduler.Interval = time.Hour
	cfg.Export.TopVendors = 10

	src := &dataset.MemorySource{
		SeriesByVendor: map[string][]dataset.HotelSeries{
			"booking_7_2": {
				{Hotel: "h1", Series: simulator.Series{{Timestamp: 0, Price: 100}, {Timestamp: 50, Price: 120}}},
				{Hotel: "h2", Series: simulator.Series{{Timestamp: 0, Price: 100}, {Timestamp: 60, Price: 100}}},
			},
			"expedia_7_2": {
				{Hotel: "h1", Series: simulator.Series{{Timestamp: 0, Price: 100}, {Timestamp: 50, Price: 100}}},
			},
			"broken_1_1": {},
		},
		TiersByVendor: map[string]dataset.TierLookup{
			"booking_7_2": {"h1": 250, "h2": 250},
			"expedia_7_2": {},
		},
	}

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop()).WithSource(src)
	a.Out = &out
	return a, &out
}

func TestSimulateWritesOutputs(t *testing.T) {
	a, out := testApp(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "nested", "matrix.csv")
	pngPath := filepath.Join(dir, "vendors.png")

	res, err := a.Simulate(context.Background(), SimulateOptions{CSVPath: csvPath, PNGPath: pngPath, TopVendors: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Run.Vendors)
	assert.Equal(t, 2, res.Run.Hotels)
	assert.Equal(t, []string{"broken_1_1"}, res.Run.FailedVendors)
	assert.Equal(t, "5.00", res.Run.MeanLoss.StringFixed(2))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "Hotel/Vendor,booking_7_2,expedia_7_2\nh1,15,0\nh2,0,0\n", string(data))

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Contains(t, out.String(), "vendor broken_1_1 skipped at tiers")
	assert.Contains(t, out.String(), "vendors=2 hotels=2 mean_loss=5.0000")
}

func TestSimulatePersistWithoutDatabase(t *testing.T) {
	a, _ := testApp(t)
	_, err := a.Simulate(context.Background(), SimulateOptions{Persist: true})
	require.Error(t, err)
}

func TestSweepOverridesRefresh(t *testing.T) {
	a, out := testApp(t)

	points, err := a.Sweep(context.Background(), SweepOptions{Rates: []float64{0.5, 250}})
	require.NoError(t, err)
	require.Len(t, points, 2)

	// a 30 second refresh catches the rise in booking h1 before it is served stale
	// tier files are not read under an override, so broken_1_1 no longer fails
	assert.True(t, points[0].MeanLoss.IsZero(), points[0].MeanLoss.String())
	assert.Equal(t, "5.0000", points[1].MeanLoss.StringFixed(4))
	assert.Zero(t, points[1].FailedVendors)
	assert.Contains(t, out.String(), "Refresh (min)")
}

func TestSweepRejectsNonPositiveRate(t *testing.T) {
	a, _ := testApp(t)
	_, err := a.Sweep(context.Background(), SweepOptions{Rates: []float64{100, 0}})
	require.Error(t, err)
}

func TestPartitionThenBuildTiers(t *testing.T) {
	a, out := testApp(t)
	dir := t.TempDir()

	raw := make(map[string][][2]float64)
	for i := 0; i < 12; i++ {
		price := float64(100 + i*50)
		raw[fmt.Sprintf("hotel%02d_booking_7_2", i)] = [][2]float64{{0, price}, {3600, price + 10}}
	}
	raw["hotel99_expedia_1_1"] = [][2]float64{{0, 80}}
	raw["not-a-key"] = [][2]float64{{0, 1}}

	payload, err := json.Marshal(raw)
	require.NoError(t, err)
	input := filepath.Join(dir, "raw.json")
	require.NoError(t, os.WriteFile(input, payload, 0o644))

	bucketDir := filepath.Join(dir, "buckets")
	report, err := a.Partition(PartitionOptions{Input: input, OutDir: bucketDir})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 1, report.LessThan10)
	assert.Contains(t, out.String(), "files=2")

	tierDir := filepath.Join(dir, "tiers")
	written, err := a.BuildTiers(TiersOptions{InputDir: bucketDir, OutDir: tierDir})
	require.NoError(t, err)
	assert.Equal(t, []string{"booking_7_2.json"}, written)

	lookup, err := dataset.LoadTierFile(filepath.Join(tierDir, "booking_7_2.json"))
	require.NoError(t, err)
	assert.Len(t, lookup, 12)
	assert.Less(t, lookup["hotel00"], lookup["hotel11"])
}

func TestPrintRuns(t *testing.T) {
	a, out := testApp(t)
	override := 100.0
	err := a.printRuns([]storage.LossRun{
		{ID: 2, FinishedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), Vendors: 3, Hotels: 9, MeanLoss: decimal.NewFromFloat(1.25), RefreshOverride: &override},
		{ID: 1, FinishedAt: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), Vendors: 3, Hotels: 9, MeanLoss: decimal.NewFromInt(2), FailedVendors: []string{"a", "b"}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "100m")
	assert.Contains(t, lines[1], "1.2500")
	assert.Contains(t, lines[2], "tiers")
	assert.Contains(t, lines[2], "a,b")
}

func TestPrintRunsEmpty(t *testing.T) {
	a, out := testApp(t)
	require.NoError(t, a.printRuns(nil))
	assert.Equal(t, "no runs found\n", out.String())
}
