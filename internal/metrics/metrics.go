// Package metrics exposes Prometheus collectors for the metadata service.
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
	collectionsTotal           *prometheus.CounterVec
	collectionDurationSeconds  prometheus.Histogram
	fetchedBytesTotal          prometheus.Counter
	inflightCollections        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metainv_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metainv_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		collectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metainv_collections_total",
				Help: "Total number of metadata collections, labeled by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		)

		collectionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metainv_collection_duration_seconds",
				Help:    "Histogram of end-to-end collection durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
		)

		fetchedBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "metainv_fetched_bytes_total",
				Help: "Total number of page source bytes fetched.",
			},
		)

		inflightCollections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metainv_inflight_collections",
				Help: "Number of background collections currently running.",
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
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCollection records one collection attempt.
func ObserveCollection(trigger, outcome string, duration time.Duration, bodyBytes int) {
	collectionsTotal.WithLabelValues(trigger, outcome).Inc()
	collectionDurationSeconds.Observe(duration.Seconds())
	if bodyBytes > 0 {
		fetchedBytesTotal.Add(float64(bodyBytes))
	}
}

// IncInflightCollections increments the in-flight collections gauge.
func IncInflightCollections() {
	inflightCollections.Inc()
}

// DecInflightCollections decrements the in-flight collections gauge.
func DecInflightCollections() {
	inflightCollections.Dec()
}
