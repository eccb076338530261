// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload results recorded by ObserveUpload.
const (
	ResultCreated       = "created"
	ResultTooLarge      = "too_large"
	ResultInvalidFormat = "invalid_format"
	ResultAborted       = "aborted"
	ResultStorageError  = "storage_error"
)

var (
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

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvingest_uploads_total",
			Help: "Uploads processed, labeled by result.",
		},
		[]string{"result"},
	)

	uploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvingest_upload_bytes",
			Help:    "Size of accepted uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	uploadRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvingest_upload_rows",
			Help:    "Rows parsed from accepted uploads.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 7),
		},
	)

	retrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvingest_retrievals_total",
			Help: "Record lookups, labeled by result.",
		},
		[]string{"result"},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "csvingest_ws_connections",
			Help: "Currently open progress WebSocket connections.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpload records one upload outcome. Size and row histograms are only
// updated for created records.
func ObserveUpload(result string, sizeBytes int64, rows int) {
	uploadsTotal.WithLabelValues(result).Inc()
	if result != ResultCreated {
		return
	}
	uploadBytes.Observe(float64(sizeBytes))
	uploadRows.Observe(float64(rows))
}

// ObserveRetrieval records one lookup outcome ("found", "not_found", "error").
func ObserveRetrieval(result string) {
	retrievalsTotal.WithLabelValues(result).Inc()
}

// IncWSConnections increments the open connections gauge.
func IncWSConnections() {
	wsConnections.Inc()
}

// DecWSConnections decrements the open connections gauge.
func DecWSConnections() {
	wsConnections.Dec()
}
