// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangeDuration tracks end-to-end backend exchange duration.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_exchange_duration_seconds",
			Help:    "Backend exchange duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"backend", "mode", "status"},
	)

	// TokensTotal tracks provider-reported token usage.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_tokens_total",
			Help: "Total tokens reported by backends",
		},
		[]string{"backend", "direction"},
	)

	// StreamEvents tracks normalized stream events by kind.
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_stream_events_total",
			Help: "Normalized stream events consumed by the reassembler",
		},
		[]string{"kind"},
	)

	// StreamWarnings tracks data-quality warnings raised while streaming.
	StreamWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_stream_warnings_total",
			Help: "Data-quality warnings raised during stream reassembly",
		},
	)

	// RetryAttempts tracks transient failures that triggered a retry.
	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_retry_attempts_total",
			Help: "Transient failures retried by the executor",
		},
	)

	// OrphanedToolResults tracks tool results dropped during translation.
	OrphanedToolResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_orphaned_tool_results_total",
			Help: "Tool results dropped because no prior tool call issued their id",
		},
		[]string{"backend"},
	)

	// DiscardedHistories tracks conversations reset to the latest request.
	DiscardedHistories = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_discarded_histories_total",
			Help: "Conversations judged corrupted and reduced to the latest user request",
		},
	)

	// SchemaCacheHits tracks schema cache lookups served from memory.
	SchemaCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_schema_cache_hits_total",
			Help: "Schema translations served from cache",
		},
	)

	// SchemaCacheMisses tracks schema cache lookups that built a translation.
	SchemaCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_schema_cache_misses_total",
			Help: "Schema translations built on cache miss",
		},
	)

	// SchemaCacheEvictions tracks oldest-first cache evictions.
	SchemaCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_schema_cache_evictions_total",
			Help: "Schema cache entries evicted at capacity",
		},
	)

	// PooledClients tracks backend clients created by the pool.
	PooledClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "adapter_pooled_clients",
			Help: "Long-lived backend clients owned by the pool",
		},
	)

	// RequestDuration tracks gateway HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total gateway HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordExchange records metrics for one backend exchange.
func RecordExchange(backend, mode, status string, duration float64, promptTokens, completionTokens int) {
	ExchangeDuration.WithLabelValues(backend, mode, status).Observe(duration)
	TokensTotal.WithLabelValues(backend, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(backend, "completion").Add(float64(completionTokens))
}

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
