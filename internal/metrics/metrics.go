// Package metrics exposes Prometheus collectors for the profile service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	admissionDecisionsTotal    *prometheus.CounterVec
	indexDecisionsTotal        *prometheus.CounterVec
	frontierQueued             prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitedTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		admissionDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profiles_admission_decisions_total",
				Help: "Crawl admission decisions, labeled by outcome reason.",
			},
			[]string{"reason"},
		)

		indexDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profiles_index_decisions_total",
				Help: "Index admission decisions, labeled by outcome reason.",
			},
			[]string{"reason"},
		)

		frontierQueued = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "profiles_frontier_queued",
				Help: "URLs waiting in the frontier.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profiles_admission_rate_limited_total",
				Help: "Admission requests refused by the per-profile rate limit.",
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdmission counts one crawl admission decision.
func ObserveAdmission(reason string) {
	admissionDecisionsTotal.WithLabelValues(reason).Inc()
}

// ObserveIndexDecision counts one index admission decision.
func ObserveIndexDecision(reason string) {
	indexDecisionsTotal.WithLabelValues(reason).Inc()
}

// SetFrontierQueued records the current frontier length.
func SetFrontierQueued(n int) {
	frontierQueued.Set(float64(n))
}

// ObserveRateLimited counts a request refused by the rate limiter.
func ObserveRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
