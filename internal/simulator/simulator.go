package simulator

import (
	"errors"
	"fmt"
	"math"
)

// Sample is a single observed price at a unix timestamp (seconds).
type Sample struct {
	Timestamp int64
	Price     float64
}

// Series is the ordered sample history of one hotel at one vendor.
type Series []Sample

// Config holds the loss model parameters shared by every simulation.
type Config struct {
	RealConversionRate        float64 `mapstructure:"real_conversion_rate"`
	HigherPriceConversionRate float64 `mapstructure:"higher_price_conversion_rate"`
	CommissionRate            float64 `mapstructure:"commission_rate"`
	SkipThresholdSeconds      int64   `mapstructure:"skip_threshold_seconds"`
	PriceOutlierMultiplier    float64 `mapstructure:"price_outlier_multiplier"`
}

// DefaultConfig mirrors the constants the loss reports have always been produced with.
func DefaultConfig() Config {
	return Config{
		RealConversionRate:        0.1,
		HigherPriceConversionRate: 0.1,
		CommissionRate:            0.05,
		SkipThresholdSeconds:      60 * 600,
		PriceOutlierMultiplier:    2,
	}
}

// Validate rejects parameter sets the state machine cannot run with.
func (c Config) Validate() error {
	if c.PriceOutlierMultiplier <= 0 {
		return errors.New("simulation.price_outlier_multiplier must be greater than zero")
	}
	if c.SkipThresholdSeconds <= 0 {
		return errors.New("simulation.skip_threshold_seconds must be greater than zero")
	}
	if c.RealConversionRate < 0 || c.HigherPriceConversionRate < 0 || c.CommissionRate < 0 {
		return fmt.Errorf("simulation rates cannot be negative")
	}
	return nil
}

// Result is the outcome of replaying one series through the simulated cache.
type Result struct {
	// Loss is TotalLoss / Countable truncated toward zero, 0 when nothing was countable.
	Loss        int64
	TotalLoss   float64
	Countable   int
	Skips       int
	Refreshes   int
	EqualPrices int
}

type cacheState int

const (
	stateUninitialized cacheState = iota
	stateActive
)

// Simulate replays series through a cache refreshed every refreshMinutes and returns
// the average loss caused by serving the cached price instead of the live one.
func Simulate(series Series, refreshMinutes float64, cfg Config) Result {
	refreshSeconds := refreshMinutes * 60

	var (
		res        Result
		state      = stateUninitialized
		cached     float64
		lastUpdate int64
	)

	for _, s := range series {
		if state == stateUninitialized {
			cached = s.Price
			lastUpdate = s.Timestamp
			state = stateActive
			continue
		}

		gap := s.Timestamp - lastUpdate
		if isSkip(gap, cached, s.Price, cfg) {
			cached = s.Price
			lastUpdate = s.Timestamp
			res.Skips++
			continue
		}

		res.Countable++

		if float64(gap) >= refreshSeconds {
			cached = s.Price
			lastUpdate = s.Timestamp
			res.Refreshes++
			continue
		}

		// stale: the cache keeps serving the old price
		switch {
		case cached == s.Price:
			res.EqualPrices++
		case cached > s.Price:
			res.TotalLoss += fallingPriceLoss(cached, s.Price, cfg)
		default:
			res.TotalLoss += risingPriceLoss(cached, s.Price, cfg)
		}
	}

	if res.Countable > 0 {
		res.Loss = int64(res.TotalLoss / float64(res.Countable))
	}
	return res
}

func isSkip(gap int64, cached, price float64, cfg Config) bool {
	if gap < 0 {
		gap = -gap
	}
	return gap > cfg.SkipThresholdSeconds ||
		price > cached*cfg.PriceOutlierMultiplier ||
		price < cached/cfg.PriceOutlierMultiplier
}

// fallingPriceLoss prices the case where the live price dropped below the cached one.
// With equal conversion rates the expression is identically zero; it is kept as is.
func fallingPriceLoss(cached, price float64, cfg Config) float64 {
	ratio := (price / cached) * cfg.HigherPriceConversionRate
	return math.Abs(price*cfg.RealConversionRate - cached*ratio)
}

// risingPriceLoss prices the case where the live price rose above the cached one,
// net of the commission earned on the cached price.
func risingPriceLoss(cached, price float64, cfg Config) float64 {
	commission := cached * cfg.CommissionRate
	return math.Max(0, price-cached-commission)
}
