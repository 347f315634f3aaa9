// Package observability provides Prometheus metrics for loss runs.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated by the aggregator and the service.
type Metrics struct {
	registry *prometheus.Registry

	// Simulation metrics
	SeriesSimulated prometheus.Counter
	SamplesSkipped  prometheus.Counter
	SamplesCounted  prometheus.Counter

	// Batch metrics
	VendorsProcessed  prometheus.Counter
	VendorFailures    *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	MeanLoss          prometheus.Gauge
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics registers every collector on a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "cacheloss"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SeriesSimulated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "series_simulated_total",
			Help:      "Total number of hotel series replayed through the cache simulator",
		}),
		SamplesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "samples_skipped_total",
			Help:      "Transitions discarded as gaps or price outliers",
		}),
		SamplesCounted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "samples_counted_total",
			Help:      "Transitions counted toward the loss average",
		}),

		VendorsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "vendors_processed_total",
			Help:      "Vendor files fully simulated",
		}),
		VendorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "vendor_failures_total",
			Help:      "Vendor files skipped, by failing stage",
		}, []string{"stage"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Loss runs by outcome",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full loss run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		MeanLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "mean_loss",
			Help:      "Batch-wide mean of per-hotel average losses of the last run",
		}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
