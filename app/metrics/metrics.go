// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
)

var (
	initOnce sync.Once

	proxiedRequestsCounter *prometheus.CounterVec
	gatewayErrorsCounter   *prometheus.CounterVec
	rateLimitedCounter     *prometheus.CounterVec
	backendDurationMetric  *prometheus.HistogramVec
	batchOperationsMetric  prometheus.Histogram
	schemaCacheMissCounter prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		proxiedRequestsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxied_requests_total",
				Help: "Total proxied operations by method and response status.",
			},
			[]string{"method", "status"},
		)

		gatewayErrorsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_errors_total",
				Help: "Total gateway errors by category.",
			},
			[]string{"category"},
		)

		rateLimitedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limited_total",
				Help: "Total requests denied by rate limiting, by scope.",
			},
			[]string{"scope"},
		)

		backendDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_backend_duration_seconds",
				Help:    "Duration of proxied backend calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		batchOperationsMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_batch_operations",
				Help:    "Operations per batch request.",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		)

		schemaCacheMissCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_schema_cache_misses_total",
				Help: "Total schema requests that fetched $metadata from the backend.",
			},
		)

		prometheus.MustRegister(
			proxiedRequestsCounter,
			gatewayErrorsCounter,
			rateLimitedCounter,
			backendDurationMetric,
			batchOperationsMetric,
			schemaCacheMissCounter,
		)

		// Ensure error categories are visible at /metrics before first increment.
		for _, category := range []apperr.Category{
			apperr.CategoryAuth,
			apperr.CategoryPermission,
			apperr.CategoryValidation,
			apperr.CategoryNotFound,
			apperr.CategoryRateLimited,
			apperr.CategoryTimeout,
			apperr.CategoryNetwork,
			apperr.CategoryAuthConfig,
			apperr.CategoryServer,
		} {
			gatewayErrorsCounter.WithLabelValues(string(category))
		}
	})
}

func IncProxiedRequest(method string, status int) {
	Init()
	proxiedRequestsCounter.WithLabelValues(method, statusLabel(status)).Inc()
}

func IncError(category apperr.Category) {
	Init()
	gatewayErrorsCounter.WithLabelValues(string(category)).Inc()
}

func IncRateLimited(scope string) {
	Init()
	rateLimitedCounter.WithLabelValues(scope).Inc()
}

func ObserveBackendDuration(method string, d time.Duration) {
	Init()
	backendDurationMetric.WithLabelValues(method).Observe(d.Seconds())
}

func ObserveBatchSize(operations int) {
	Init()
	batchOperationsMetric.Observe(float64(operations))
}

func IncSchemaCacheMiss() {
	Init()
	schemaCacheMissCounter.Inc()
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
