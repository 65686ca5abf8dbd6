// Package metrics exposes Prometheus collectors for the crawler service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	crawlTasksTotal            *prometheus.CounterVec
	crawlActiveWorkers         prometheus.Gauge
	crawlRetryDelaysSeconds    prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weibo_crawl_tasks_total",
				Help: "Total number of crawl tasks processed, labeled by final state.",
			},
			[]string{"state"},
		)

		crawlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "weibo_crawl_active_workers",
				Help: "Number of workers currently executing a crawl run.",
			},
		)

		crawlRetryDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "weibo_crawl_retry_delays_seconds",
				Help:    "Histogram of upstream retry backoff waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTask increments the task counter for the given terminal state.
func ObserveTask(state string) {
	if crawlTasksTotal == nil {
		return
	}
	crawlTasksTotal.WithLabelValues(state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlActiveWorkers == nil {
		return
	}
	crawlActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlActiveWorkers == nil {
		return
	}
	crawlActiveWorkers.Dec()
}

// ObserveRetryDelay records one backoff wait before an upstream retry.
func ObserveRetryDelay(duration time.Duration) {
	if crawlRetryDelaysSeconds == nil {
		return
	}
	crawlRetryDelaysSeconds.Observe(duration.Seconds())
}
