package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration tracks per-stage pipeline latency.
	// Labels: technique (technique ID or "generation"/"attribution")
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragmodulo",
			Subsystem: "search",
			Name:      "stage_duration_seconds",
			Help:      "Duration of search pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"technique"},
	)

	// SearchesTotal counts search requests.
	// Labels: result (success, error, cancelled)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragmodulo",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"result"},
	)

	// RetrievedChunks samples how many chunks retrieval returns.
	RetrievedChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragmodulo",
			Subsystem: "search",
			Name:      "retrieved_chunks",
			Help:      "Number of chunks returned by the retrieval stage",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)
)
