// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	WebSocketSessions prometheus.Gauge

	BackendUp       prometheus.Gauge
	BackendRestarts prometheus.Counter
	BackendExits    *prometheus.CounterVec

	prefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors registered.
// uiPrefix is used as a bounded path label for proxied traffic.
func New(uiPrefix string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resume_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resume_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resume_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resume_gateway_upstream_request_duration_seconds",
			Help:    "Time until the backend returned response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resume_gateway_upstream_responses_total",
			Help: "Total backend responses by method and status code.",
		}, []string{"method", "status_code"}),

		WebSocketSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resume_gateway_websocket_sessions",
			Help: "Number of relayed WebSocket sessions currently open.",
		}),

		BackendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resume_gateway_backend_up",
			Help: "1 when the backend accepts connections on its internal port, else 0.",
		}),

		BackendRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resume_gateway_backend_restarts_total",
			Help: "Total backend respawns after a crash.",
		}),

		BackendExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resume_gateway_backend_exits_total",
			Help: "Total backend exits by exit code (-1 means killed by a signal).",
		}, []string{"code"}),

		prefixes: []string{"/health", "/api/status", "/static", "/metrics"},
	}
	if uiPrefix != "" {
		m.prefixes = append([]string{uiPrefix}, m.prefixes...)
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.WebSocketSessions,
		m.BackendUp,
		m.BackendRestarts,
		m.BackendExits,
	)

	return m
}

// Handler exposes the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
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

// NormalizePath returns a bounded path label for Prometheus metrics.
func (m *Metrics) NormalizePath(path string) string {
	if path == "/" {
		return "/"
	}
	for _, prefix := range m.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
