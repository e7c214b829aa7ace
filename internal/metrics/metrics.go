// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts pipeline runs by terminal status.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_analyses_total",
		Help: "Total number of analysis pipeline runs by terminal status.",
	}, []string{"status"})

	// ScoringDuration observes how long the scoring call takes.
	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_scoring_duration_seconds",
		Help:    "Duration of pronunciation scoring calls.",
		Buckets: prometheus.DefBuckets,
	})

	// UploadAttemptsTotal counts individual delivery attempts by outcome.
	UploadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_upload_attempts_total",
		Help: "Total number of result delivery attempts by outcome.",
	}, []string{"outcome"})

	// UploadsSkippedTotal counts runs that never attempted delivery.
	UploadsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_uploads_skipped_total",
		Help: "Total number of runs that skipped result delivery.",
	}, []string{"reason"})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes HTTP request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// AttemptsSweptTotal counts attempts removed by the retention sweeper.
	AttemptsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_attempts_swept_total",
		Help: "Total number of attempts removed by the retention sweeper.",
	})
)
