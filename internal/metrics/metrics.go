// Package metrics provides Prometheus metrics for the server.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request and CGI latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// CGI outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeExitError = "exit_error"
	OutcomeTimeout   = "timeout"
	OutcomeAborted   = "aborted"
	OutcomeSpawn     = "spawn_error"
)

// Metrics holds all Prometheus metric collectors for the server.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal    prometheus.Counter
	ConnectionsInFlight prometheus.Gauge
	ResponsesTotal      *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	BytesOut            prometheus.Counter

	CGIExecutions *prometheus.CounterVec
	CGIDuration   prometheus.Histogram

	AdminRequests *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinyhttpd_connections_total",
			Help: "Total accepted TCP connections.",
		}),

		ConnectionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tinyhttpd_connections_in_flight",
			Help: "Number of connections currently being handled.",
		}),

		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinyhttpd_responses_total",
			Help: "Total responses by method, status code and handler.",
		}, []string{"method", "status_code", "handler"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tinyhttpd_request_duration_seconds",
			Help:    "Time from accept to connection close in seconds.",
			Buckets: defaultBuckets,
		}, []string{"handler"}),

		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinyhttpd_response_bytes_total",
			Help: "Total bytes written to clients.",
		}),

		CGIExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinyhttpd_cgi_executions_total",
			Help: "Total CGI program runs by outcome.",
		}, []string{"outcome"}),

		CGIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tinyhttpd_cgi_duration_seconds",
			Help:    "CGI program wall time from spawn to exit in seconds.",
			Buckets: defaultBuckets,
		}),

		AdminRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinyhttpd_admin_requests_total",
			Help: "Total admin HTTP requests by path and status code.",
		}, []string{"path", "status_code"}),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.ConnectionsInFlight,
		m.ResponsesTotal,
		m.RequestDuration,
		m.BytesOut,
		m.CGIExecutions,
		m.CGIDuration,
		m.AdminRequests,
	)

	return m
}

// ObserveResponse records one finished request. Safe on a nil receiver so
// components can run without metrics.
func (m *Metrics) ObserveResponse(method, handler string, status int, bytesOut int64, seconds float64) {
	if m == nil {
		return
	}
	m.ResponsesTotal.WithLabelValues(NormalizeMethod(method), strconv.Itoa(status), handler).Inc()
	m.RequestDuration.WithLabelValues(handler).Observe(seconds)
	if bytesOut > 0 {
		m.BytesOut.Add(float64(bytesOut))
	}
}

// ObserveCGI records one CGI program run.
func (m *Metrics) ObserveCGI(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CGIExecutions.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSpawn {
		m.CGIDuration.Observe(seconds)
	}
}

// knownMethods lists the allowed method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownAdminPaths lists the allowed admin path label values.
var knownAdminPaths = []string{"/healthz", "/status"}

// NormalizeAdminPath returns a bounded path label for the admin listener.
// metricsPath is the configured metrics route.
func NormalizeAdminPath(path, metricsPath string) string {
	if path == metricsPath {
		return "/metrics"
	}
	for _, p := range knownAdminPaths {
		if path == p {
			return p
		}
	}
	return "other"
}
