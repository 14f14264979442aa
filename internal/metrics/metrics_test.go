package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"siifmart/backend/internal/domain"
)

func TestTrackerLabelsOutcomeByKind(t *testing.T) {
	m := New(prometheus.NewRegistry())

	_ = m.Track("commit_sale").End(nil)
	_ = m.Track("commit_sale").End(domain.ErrInsufficientStock)
	err := m.Track("complete_job").End(domain.ErrStockRaceUnresolved)
	require.ErrorIs(t, err, domain.ErrStockRaceUnresolved)

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("commit_sale", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("commit_sale", "precondition")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("complete_job", "concurrency")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.StockRetry("x", true)
	m.JobCreated("PICK")
	m.ObserveHTTP("GET", "/", 200, 0)
	require.NoError(t, m.Track("x").End(nil))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.JobCreated("PICK")
	m.JobCreated("PICK")
	m.StockRetry("complete_job", false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.jobsCreated.WithLabelValues("PICK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stockRetry.WithLabelValues("complete_job", "unresolved")))
}
