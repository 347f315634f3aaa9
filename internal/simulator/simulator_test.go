package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateEmptyAndSingleton(t *testing.T) {
	cfg := DefaultConfig()

	res := Simulate(nil, 250, cfg)
	assert.Equal(t, Result{}, res)

	res = Simulate(Series{{Timestamp: 10, Price: 300}}, 250, cfg)
	assert.Equal(t, int64(0), res.Loss)
	assert.Equal(t, 0, res.Countable)
}

func TestSimulateRisingPrice(t *testing.T) {
	cfg := DefaultConfig()
	series := Series{{Timestamp: 0, Price: 100}, {Timestamp: 50, Price: 120}}

	res := Simulate(series, 250, cfg)
	assert.Equal(t, int64(15), res.Loss)
	assert.Equal(t, 1, res.Countable)
	assert.InDelta(t, 15.0, res.TotalLoss, 1e-9)
}

func TestSimulateRisingPriceBelowCommission(t *testing.T) {
	series := Series{{Timestamp: 0, Price: 100}, {Timestamp: 10, Price: 103}}

	res := Simulate(series, 250, DefaultConfig())
	assert.Equal(t, int64(0), res.Loss)
	assert.Equal(t, 1, res.Countable)
}

func TestSimulateAllRefreshes(t *testing.T) {
	refresh := 10.0
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: 600, Price: 150},
		{Timestamp: 1300, Price: 110},
		{Timestamp: 2000, Price: 190},
	}

	res := Simulate(series, refresh, DefaultConfig())
	assert.Equal(t, int64(0), res.Loss)
	assert.Equal(t, 3, res.Refreshes)
	assert.Equal(t, 3, res.Countable)
}

func TestSimulateEqualPricesStillCount(t *testing.T) {
	series := Series{
		{Timestamp: 0, Price: 200},
		{Timestamp: 10, Price: 200},
		{Timestamp: 20, Price: 200},
		{Timestamp: 30, Price: 200},
	}

	res := Simulate(series, 250, DefaultConfig())
	assert.Equal(t, int64(0), res.Loss)
	assert.Equal(t, 3, res.EqualPrices)
	assert.Equal(t, 3, res.Countable)
}

func TestSimulateEqualPricesDiluteAverage(t *testing.T) {
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: 10, Price: 100},
		{Timestamp: 20, Price: 120},
	}

	res := Simulate(series, 250, DefaultConfig())
	// 15 loss over two countable transitions
	assert.Equal(t, int64(7), res.Loss)
	assert.Equal(t, 2, res.Countable)
}

func TestSimulateSkipOnGap(t *testing.T) {
	cfg := DefaultConfig()
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: cfg.SkipThresholdSeconds + 1, Price: 150},
		{Timestamp: cfg.SkipThresholdSeconds + 11, Price: 180},
	}

	res := Simulate(series, 1_000_000, cfg)
	assert.Equal(t, 1, res.Skips)
	assert.Equal(t, 1, res.Countable)
	// cache was reset to 150 by the skip: 180 - 150 - 7.5
	assert.InDelta(t, 22.5, res.TotalLoss, 1e-9)
	assert.Equal(t, int64(22), res.Loss)
}

func TestSimulateSkipOnNegativeGap(t *testing.T) {
	cfg := DefaultConfig()
	series := Series{
		{Timestamp: cfg.SkipThresholdSeconds * 2, Price: 100},
		{Timestamp: 0, Price: 120},
	}

	res := Simulate(series, 250, cfg)
	assert.Equal(t, 1, res.Skips)
	assert.Equal(t, int64(0), res.Loss)
}

func TestSimulateGapAtThresholdIsNotSkipped(t *testing.T) {
	cfg := DefaultConfig()
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: cfg.SkipThresholdSeconds, Price: 120},
	}

	res := Simulate(series, 1_000_000, cfg)
	assert.Equal(t, 0, res.Skips)
	assert.Equal(t, int64(15), res.Loss)
}

func TestSimulateOutlierSkipTakesPrecedence(t *testing.T) {
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: 5, Price: 201},
		{Timestamp: 10, Price: 49},
	}

	res := Simulate(series, 250, DefaultConfig())
	assert.Equal(t, 2, res.Skips)
	assert.Equal(t, 0, res.Countable)
	assert.Equal(t, int64(0), res.Loss)
}

func TestSimulateOutlierBoundaryIsNotSkipped(t *testing.T) {
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: 5, Price: 200},
	}

	res := Simulate(series, 250, DefaultConfig())
	assert.Equal(t, 0, res.Skips)
	assert.Equal(t, int64(95), res.Loss)
}

func TestSimulateStaleDoesNotUpdateCache(t *testing.T) {
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: 10, Price: 120},
		{Timestamp: 20, Price: 130},
	}

	res := Simulate(series, 250, DefaultConfig())
	// both compared against 100: 15 + 25
	assert.InDelta(t, 40.0, res.TotalLoss, 1e-9)
	assert.Equal(t, int64(20), res.Loss)
}

func TestSimulateRefreshMovesCache(t *testing.T) {
	series := Series{
		{Timestamp: 0, Price: 100},
		{Timestamp: 60, Price: 120},
		{Timestamp: 70, Price: 130},
	}

	res := Simulate(series, 1, DefaultConfig())
	assert.Equal(t, 1, res.Refreshes)
	// 130 - 120 - 6
	assert.InDelta(t, 4.0, res.TotalLoss, 1e-9)
	assert.Equal(t, int64(2), res.Loss)
}

func TestFallingPriceLossIsZeroWithDefaultRates(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, cfg.RealConversionRate, cfg.HigherPriceConversionRate)

	for _, pair := range [][2]float64{{100, 99}, {100, 51}, {333.33, 200.01}, {1e6, 7e5}, {1, 0.5}} {
		assert.InDelta(t, 0.0, fallingPriceLoss(pair[0], pair[1], cfg), 1e-9, "cached=%v price=%v", pair[0], pair[1])
	}

	series := Series{
		{Timestamp: 0, Price: 400},
		{Timestamp: 10, Price: 380},
		{Timestamp: 20, Price: 250},
		{Timestamp: 30, Price: 399.99},
	}
	res := Simulate(series, 250, cfg)
	assert.Equal(t, 3, res.Countable)
	assert.Equal(t, int64(0), res.Loss)
}

func TestFallingPriceLossWithDistinctRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RealConversionRate = 0.2

	// |80*0.2 - 100*(0.8*0.1)| = |16 - 8|
	assert.InDelta(t, 8.0, fallingPriceLoss(100, 80, cfg), 1e-9)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.PriceOutlierMultiplier = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SkipThresholdSeconds = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CommissionRate = -1
	require.Error(t, cfg.Validate())
}
