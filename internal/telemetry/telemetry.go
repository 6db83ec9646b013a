// Package telemetry exposes Prometheus metrics for the ingestion pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetches_total",
			Help: "HTTP fetches by transport and status code.",
		},
		[]string{"transport", "status"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_fetch_duration_seconds",
			Help:    "Fetch latency by transport.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Pipeline item outcomes (upserted, deduped, skipped, pushed).",
		},
		[]string{"outcome"},
	)

	sourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_source_errors_total",
			Help: "Per-source errors by kind (network, antibot, panic).",
		},
		[]string{"kind"},
	)

	pushDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_push_decisions_total",
			Help: "Push governor decisions by audit result.",
		},
		[]string{"result"},
	)

	extractionRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_extraction_retries_total",
			Help: "Extraction service attempts beyond the first.",
		},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time of complete ingest runs.",
			Buckets: []float64{1, 5, 15, 60, 120, 300, 600, 1200},
		},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Serve-mode HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveFetch records one fetch attempt.
func ObserveFetch(transport string, status int, d time.Duration) {
	fetchesTotal.WithLabelValues(transport, strconv.Itoa(status)).Inc()
	fetchDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// CountItem records one pipeline item outcome.
func CountItem(outcome string) {
	itemsTotal.WithLabelValues(outcome).Inc()
}

// CountSourceError records one per-source error.
func CountSourceError(kind string) {
	sourceErrorsTotal.WithLabelValues(kind).Inc()
}

// CountPushDecision records one governor decision.
func CountPushDecision(result string) {
	pushDecisionsTotal.WithLabelValues(result).Inc()
}

// CountExtractionRetry records one extraction retry.
func CountExtractionRetry() {
	extractionRetriesTotal.Inc()
}

// ObserveRun records a completed run's duration.
func ObserveRun(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

// ObserveHTTPRequest records one serve-mode HTTP request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
