// Package metrics provides Prometheus metrics for the Confluence spec MCP server.
// It tracks tool calls, Confluence API traffic, link cache performance,
// extraction strategy outcomes and publish operations.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "confluence_spec_mcp"
)

var (
	// RequestsTotal counts total MCP tool calls by tool name and status
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "requests_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "status"})

	// RequestDuration measures tool call latency distribution
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "request_duration_seconds",
		Help:      "Request latency distribution by tool",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"tool"})

	// RequestInFlight tracks currently executing tool calls
	RequestInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "requests_in_flight",
		Help:      "Number of requests currently being processed",
	}, []string{"tool"})

	// LinkCacheHits counts resolved-link cache hits
	LinkCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "link_cache_hits_total",
		Help:      "Total link cache hit count",
	})

	// LinkCacheMisses counts resolved-link cache misses
	LinkCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "link_cache_misses_total",
		Help:      "Total link cache miss count",
	})

	// LinkCacheSize tracks current link cache entry count
	LinkCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "link_cache_entries",
		Help:      "Current number of link cache entries",
	})

	// LinkResolutions counts link resolutions by outcome
	LinkResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "link_resolutions_total",
		Help:      "Wiki link resolutions by outcome",
	}, []string{"outcome"})

	// ConfluenceAPILatency measures Confluence REST call latency by operation
	ConfluenceAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "confluence_api_latency_seconds",
		Help:      "Confluence API call latency by operation",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// ConfluenceAPIRequestsTotal counts Confluence REST calls
	ConfluenceAPIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "confluence_api_requests_total",
		Help:      "Total Confluence API requests by operation and HTTP status",
	}, []string{"operation", "status"})

	// ConfluenceAPIErrors counts classified Confluence failures
	ConfluenceAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "confluence_api_errors_total",
		Help:      "Confluence API errors by operation and error kind",
	}, []string{"operation", "kind"})

	// RateLimitResponses counts 429 responses from Confluence
	RateLimitResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "confluence_rate_limited_total",
		Help:      "Confluence 429 responses by operation",
	}, []string{"operation"})

	// RateLimitRejections counts inbound HTTP requests rejected by the server's limiter
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected due to rate limiting",
	})

	// RateLimitWaits counts requests that had to wait for the concurrency semaphore
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_waits_total",
		Help:      "Requests that waited for rate limiter semaphore",
	})

	// AuthFailures counts authentication failures
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "auth_failures_total",
		Help:      "Authentication failure count by reason",
	}, []string{"reason"})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})

	// HTTPRequestsTotal counts HTTP transport requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	// ExtractionAttempts counts extraction strategy attempts by strategy and outcome
	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "extraction_attempts_total",
		Help:      "Content extraction attempts by strategy, format and outcome",
	}, []string{"strategy", "format", "outcome"})

	// PublishOperations counts publish workflow runs by operation and status
	PublishOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "publish_operations_total",
		Help:      "Publish operations by type and status",
	}, []string{"operation", "status"})

	// ContentSize tracks document sizes processed
	ContentSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "content_size_bytes",
		Help:      "Content size distribution in bytes",
		Buckets:   []float64{100, 1000, 10000, 50000, 100000, 250000, 500000, 1000000},
	}, []string{"operation"})
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed tool call with its duration and status
func RecordRequest(tool string, duration float64, success bool) {
	RequestsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	RequestDuration.WithLabelValues(tool).Observe(duration)
}

// RecordAPICall records a Confluence REST call. statusCode is 0 when no
// response was received.
func RecordAPICall(operation string, duration float64, statusCode int) {
	status := "none"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	ConfluenceAPIRequestsTotal.WithLabelValues(operation, status).Inc()
	ConfluenceAPILatency.WithLabelValues(operation).Observe(duration)
	if statusCode == 429 {
		RateLimitResponses.WithLabelValues(operation).Inc()
	}
}

// RecordAPIError records a classified Confluence failure
func RecordAPIError(operation, kind string) {
	ConfluenceAPIErrors.WithLabelValues(operation, kind).Inc()
	if kind == "authentication" || kind == "authorization" {
		AuthFailures.WithLabelValues(kind).Inc()
	}
}

// RecordLinkCacheAccess records a link cache hit or miss
func RecordLinkCacheAccess(hit bool) {
	if hit {
		LinkCacheHits.Inc()
	} else {
		LinkCacheMisses.Inc()
	}
}

// SetLinkCacheSize updates the current link cache size gauge
func SetLinkCacheSize(size int) {
	LinkCacheSize.Set(float64(size))
}

// RecordLinkResolution records whether a link resolved
func RecordLinkResolution(success bool) {
	LinkResolutions.WithLabelValues(statusLabel(success)).Inc()
}

// RecordExtractionAttempt records one fallback strategy attempt
func RecordExtractionAttempt(strategy, format string, success bool) {
	ExtractionAttempts.WithLabelValues(strategy, format, statusLabel(success)).Inc()
}

// RecordPublish records a finished publish workflow run
func RecordPublish(operation string, success bool, contentBytes int) {
	PublishOperations.WithLabelValues(operation, statusLabel(success)).Inc()
	ContentSize.WithLabelValues("publish").Observe(float64(contentBytes))
}
