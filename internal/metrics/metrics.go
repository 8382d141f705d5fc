package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GovernorRequests tracks Submit outcomes (result, fallback, fatal, cancelled)
	GovernorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_governor_requests_total",
			Help: "Total number of governor submissions by outcome",
		},
		[]string{"outcome"},
	)

	// GovernorFallbacks tracks why a fallback response was produced
	GovernorFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_governor_fallbacks_total",
			Help: "Total number of fallback responses by reason",
		},
		[]string{"reason"},
	)

	// GovernorRetries tracks retries by error category
	GovernorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_governor_retries_total",
			Help: "Total number of provider call retries",
		},
		[]string{"category"},
	)

	// GovernorQueueDepth tracks tickets waiting for a dispatch slot
	GovernorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "athena_governor_queue_depth",
			Help: "Number of requests waiting for dispatch",
		},
	)

	// GovernorBatchSize tracks how many requests share a dispatch slot
	GovernorBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "athena_governor_batch_size",
			Help:    "Number of requests dispatched together",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
	)

	// ProviderCalls tracks provider calls by result category ("success" on success)
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_provider_calls_total",
			Help: "Total number of LLM provider calls",
		},
		[]string{"provider", "category"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "athena_provider_latency_seconds",
			Help:    "LLM provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// BreakerState is 0 closed, 1 open, 2 half-open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "athena_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	// CalendarCalls tracks calendar operations by result category
	CalendarCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_calendar_calls_total",
			Help: "Total number of calendar operations",
		},
		[]string{"operation", "category"},
	)

	// CalendarQuotaUsed tracks calendar calls counted against today's quota
	CalendarQuotaUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "athena_calendar_quota_used",
			Help: "Calendar API calls counted against the daily quota",
		},
	)

	// SlotsFound tracks how many candidate slots each search returned
	SlotsFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "athena_slots_found",
			Help:    "Number of candidate slots returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)

	// MessagesHandled tracks assistant turns by detected intent
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_messages_handled_total",
			Help: "Total number of handled chat messages",
		},
		[]string{"intent"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "athena_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
