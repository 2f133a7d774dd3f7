package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sura",
		Name:      "queue_entries_processed_total",
		Help:      "Total number of queue entries processed, by outcome",
	}, []string{"outcome"})

	MatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sura",
		Name:      "matches_created_total",
		Help:      "Total number of candidate matches created",
	}, []string{"kind"})

	MatchesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sura",
		Name:      "matches_finalized_total",
		Help:      "Total number of matches verified or rejected",
	}, []string{"status"})

	ScoringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sura",
		Name:      "scoring_duration_seconds",
		Help:      "Duration of scoring stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sura",
		Name:      "queue_depth",
		Help:      "Number of queue entries per lifecycle state",
	}, []string{"state"})

	EntriesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sura",
		Name:      "queue_entries_reaped_total",
		Help:      "Total number of stale processing entries reaped",
	})

	ImagesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sura",
		Name:      "images_purged_total",
		Help:      "Total number of probe images purged by retention",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sura",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sura",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
