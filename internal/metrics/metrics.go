// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rate limiting metrics
var (
	// RequestsAdmitted tracks requests admitted by the limiter per class.
	RequestsAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_admitted_total",
			Help: "Total requests admitted by the rate limiter",
		},
		[]string{"class"},
	)

	// RequestsLimited tracks requests rejected by the limiter per class.
	RequestsLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_limited_total",
			Help: "Total requests rejected by the rate limiter",
		},
		[]string{"class"},
	)

	// TrackedBuckets tracks the number of live client buckets.
	TrackedBuckets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_rate_limit_buckets",
			Help: "Number of client buckets currently tracked",
		},
	)
)

// Progressive blocking metrics
var (
	// ViolationsRecorded tracks rate-limit violations per limiter class.
	ViolationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_violations_total",
			Help: "Total rate-limit violations recorded",
		},
		[]string{"class"},
	)

	// BlocksImposed tracks new or extended address blocks.
	BlocksImposed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_blocks_imposed_total",
			Help: "Total progressive blocks imposed or extended",
		},
	)

	// BlockedRequests tracks requests rejected at the block gate.
	BlockedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_blocked_requests_total",
			Help: "Total requests rejected because the address was blocked",
		},
	)

	// ActiveBlocks tracks addresses currently under a block.
	ActiveBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_blocks",
			Help: "Number of addresses currently blocked",
		},
	)
)

// Upload pipeline metrics
var (
	// UploadsProcessed tracks uploads through the pipeline by outcome.
	// outcome: "accepted", "invalid", "unsafe", "processing_failed"
	UploadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_uploads_processed_total",
			Help: "Total uploads processed by the validation pipeline by outcome",
		},
		[]string{"outcome"},
	)

	// ThreatsDetected tracks content-scan matches by descriptor.
	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_threats_detected_total",
			Help: "Total threat scanner matches by descriptor",
		},
		[]string{"threat"},
	)

	// SanitizeDuration tracks image sanitization latency.
	SanitizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_sanitize_duration_seconds",
			Help:    "Image sanitization duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)
