package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// LossRun is the persisted summary of one aggregator run.
type LossRun struct {
	ID              int64
	StartedAt       time.Time
	FinishedAt      time.Time
	RefreshOverride *float64
	Vendors         int
	Hotels          int
	MeanLoss        decimal.Decimal
	FailedVendors   []string
	CreatedAt       time.Time
}

// LossCell is a single (vendor, hotel) entry of a run's loss matrix.
type LossCell struct {
	RunID  int64
	Vendor string
	Hotel  string
	Loss   int64
}
