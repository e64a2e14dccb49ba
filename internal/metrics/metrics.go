// Package metrics exposes Prometheus collectors for the pagesnap service.
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
	captureAttemptsTotal       *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	captureFailuresTotal       *prometheus.CounterVec
	assetUploadsTotal          *prometheus.CounterVec
	assetUploadBytes           prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		captureAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesnap_capture_attempts_total",
				Help: "Total number of engine capture attempts, labeled by engine and outcome.",
			},
			[]string{"engine", "outcome"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagesnap_capture_duration_seconds",
				Help:    "Histogram of engine capture latencies, labeled by engine.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 35, 60},
			},
			[]string{"engine"},
		)

		captureFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesnap_capture_failures_total",
				Help: "Total number of engine failures, labeled by engine and reason.",
			},
			[]string{"engine", "reason"},
		)

		assetUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesnap_asset_uploads_total",
				Help: "Total number of asset uploads, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		assetUploadBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagesnap_asset_upload_bytes",
				Help:    "Histogram of uploaded asset sizes in bytes.",
				Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records one engine attempt. reason is empty on success.
func ObserveCapture(engine, reason string, duration time.Duration) {
	Init()
	outcome := "success"
	if reason != "" {
		outcome = "failure"
		captureFailuresTotal.WithLabelValues(engine, reason).Inc()
	}
	captureAttemptsTotal.WithLabelValues(engine, outcome).Inc()
	captureDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveUpload records an asset upload outcome and, on success, its size.
func ObserveUpload(outcome string, size int) {
	Init()
	assetUploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" && size > 0 {
		assetUploadBytes.Observe(float64(size))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
