// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets. Document conversions are slow, so the tail is longer
// than a typical API.
var defaultBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// bodyBuckets spans 1 KiB to 256 MiB in powers of four.
var bodyBuckets = prometheus.ExponentialBuckets(1024, 4, 10)

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RequestBodyBytes *prometheus.HistogramVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	FilesStaged     *prometheus.CounterVec
	BytesStaged     *prometheus.CounterVec
	RelayOutcomes   *prometheus.CounterVec
	FilesRemoved    prometheus.Counter
	CleanupFailures prometheus.Counter
	BytesRelayed    *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdf_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		RequestBodyBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_gateway_http_request_body_bytes",
			Help:    "Inbound request body bytes read by the gateway.",
			Buckets: bodyBuckets,
		}, []string{"path_prefix", "status_code"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_gateway_upstream_request_duration_seconds",
			Help:    "Time until the document engine returned response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"operation"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_gateway_upstream_responses_total",
			Help: "Total document engine responses by operation and status code.",
		}, []string{"operation", "status_code"}),

		FilesStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_gateway_files_staged_total",
			Help: "Uploaded files written to temporary storage.",
		}, []string{"field"}),

		BytesStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_gateway_bytes_staged_total",
			Help: "Bytes written to temporary storage.",
		}, []string{"field"}),

		RelayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_gateway_relay_outcomes_total",
			Help: "Terminal outcome of each relayed request.",
		}, []string{"operation", "outcome"}),

		FilesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdf_gateway_files_removed_total",
			Help: "Staged files deleted by cleanup.",
		}),

		CleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdf_gateway_cleanup_failures_total",
			Help: "Staged files that could not be deleted.",
		}),

		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_gateway_bytes_relayed_total",
			Help: "Response bytes streamed from the document engine to callers.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RequestBodyBytes,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.FilesStaged,
		m.BytesStaged,
		m.RelayOutcomes,
		m.FilesRemoved,
		m.CleanupFailures,
		m.BytesRelayed,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/merge", "/convert-html", "/split", "/healthz", "/gateway/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
