package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"siifmart/backend/internal/domain"
)

// Metrics exposes Prometheus collectors for fulfillment operations and the
// HTTP surface.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	stockRetry  *prometheus.CounterVec
	jobsCreated *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New registers collectors against registerer. A nil registerer uses the
// process-wide default, registered once.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = build(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return build(registerer)
}

func build(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siifmart",
			Name:      "operations_total",
			Help:      "Core operations by name and outcome kind.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siifmart",
			Name:      "operation_duration_seconds",
			Help:      "Core operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		stockRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siifmart",
			Name:      "stock_cas_retries_total",
			Help:      "Stock compare-and-swap retries by operation and result.",
		}, []string{"operation", "result"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siifmart",
			Name:      "warehouse_jobs_created_total",
			Help:      "Warehouse jobs created by type.",
		}, []string{"type"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siifmart",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	registerer.MustRegister(m.operations, m.duration, m.stockRetry, m.jobsCreated, m.httpLatency)
	return m
}

// Tracker times one operation.
type Tracker struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

func (m *Metrics) Track(operation string) *Tracker {
	return &Tracker{metrics: m, operation: operation, start: time.Now()}
}

// End records the outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
		if outcome == "" {
			outcome = "internal"
		}
	}
	t.metrics.operations.WithLabelValues(t.operation, outcome).Inc()
	t.metrics.duration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	return err
}

func (m *Metrics) StockRetry(operation string, resolved bool) {
	if m == nil {
		return
	}
	result := "resolved"
	if !resolved {
		result = "unresolved"
	}
	m.stockRetry.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) JobCreated(jobType string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(jobType).Inc()
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
