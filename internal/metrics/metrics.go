// Package metrics exposes Prometheus instrumentation for the transfer
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransfersInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "transfers_initiated_total",
		Help:      "Warm transfers initiated.",
	})

	TransfersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "transfers_completed_total",
		Help:      "Warm transfers that reached COMPLETED.",
	})

	TransfersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "transfers_cancelled_total",
		Help:      "Warm transfers cancelled before completion.",
	})

	TransfersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "transfers_failed_total",
		Help:      "Warm transfers that reached FAILED, by failure code.",
	}, []string{"reason"})

	SummaryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "summary_attempts_total",
		Help:      "Summarization provider calls attempted.",
	})

	SummaryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "summary_failures_total",
		Help:      "Summarization provider calls that returned an error.",
	})

	SummariesDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "summaries_degraded_total",
		Help:      "Transfers that proceeded without a summary after exhausting retries.",
	})

	CleanupWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycall",
		Name:      "cleanup_warnings_total",
		Help:      "Post-commit cleanup failures attached to completed transfers.",
	})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaycall",
		Name:      "gateway_request_duration_seconds",
		Help:      "Room platform request latency, by RoomService method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// Handler returns the /metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
