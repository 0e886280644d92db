package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_events_ingested_total",
			Help: "Total number of events accepted into the sliding window",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodsentry_events_dropped_total",
			Help: "Total number of events dropped before aggregation",
		},
		[]string{"reason"}, // stale, future, backpressure, invalid
	)

	// Evaluation metrics
	Evaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_evaluations_total",
			Help: "Total number of evaluation ticks processed",
		},
	)

	WindowEntropy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_window_entropy_bits",
			Help: "Shannon entropy of the source distribution in the current window",
		},
	)

	AnomalyScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_anomaly_score",
			Help: "Normalized distribution anomaly score for the current window (0-1)",
		},
	)

	UniqueSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_unique_sources",
			Help: "Number of distinct sources observed in the current window",
		},
	)

	WindowEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_window_events",
			Help: "Total events in the current window snapshot",
		},
	)

	// Source cache metrics
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_source_cache_size",
			Help: "Number of sources currently tracked in the state cache",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_source_cache_evictions_total",
			Help: "Total number of LRU evictions from the source state cache",
		},
	)

	// Threat queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_threat_queue_depth",
			Help: "Number of entries waiting in the threat priority queue",
		},
	)

	ThreatsReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_threats_reported_total",
			Help: "Total threat entries pushed for mitigation",
		},
	)

	// Mitigation metrics
	MitigationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodsentry_mitigation_actions_total",
			Help: "Total mitigation actions applied by type",
		},
		[]string{"action"}, // rate_limit, challenge, block, none
	)

	StaleEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_stale_queue_entries_total",
			Help: "Queue entries popped for sources that were already handled",
		},
	)

	BlockedSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodsentry_blocked_sources",
			Help: "Number of sources currently blocked",
		},
	)

	// Configuration reload metrics
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodsentry_config_reloads_total",
			Help: "Total number of configuration reloads by trigger",
		},
		[]string{"trigger"}, // watch, sighup, http
	)
)
