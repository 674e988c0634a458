package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devi_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devi_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Model endpoint
	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devi_model_requests_total",
			Help: "Batches received by the model endpoint",
		},
		[]string{"outcome"}, // ok, invalid, error
	)

	PromptsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devi_prompts_received_total",
			Help: "User prompts received across all batches",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devi_batch_size",
			Help:    "Prompts per dispatched batch",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
	)

	RepliesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devi_replies_sent_total",
			Help: "Assistant chat bubbles returned",
		},
	)

	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devi_archive_failures_total",
			Help: "Exchanges that could not be archived to object storage",
		},
	)
)
