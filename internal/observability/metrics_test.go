package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsDefaultsNamespace(t *testing.T) {
	m := NewMetrics("")
	m.RunsTotal.WithLabelValues("complete").Inc()
	m.VendorFailures.WithLabelValues("tiers").Add(2)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.VendorFailures.WithLabelValues("tiers")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "cacheloss_batch_runs_total")
	assert.Contains(t, names, "cacheloss_batch_vendor_failures_total")
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics("test")
	m.MeanLoss.Set(3.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_batch_mean_loss 3.5"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewMetrics("x")
	b := NewMetrics("x")
	a.SeriesSimulated.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.SeriesSimulated))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.SeriesSimulated))
}
