package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes for awrlens_uploads_total.
const (
	UploadAccepted = "accepted"
	UploadReplayed = "replayed"
	UploadRejected = "rejected"
)

// Metrics holds the server's Prometheus collectors on a private registry.
// ObserveParse and ObserveRun have the shapes of the ingest and diagnose
// hooks, so one Metrics value instruments the whole process.
type Metrics struct {
	registry      *prometheus.Registry
	uploads       *prometheus.CounterVec
	parses        *prometheus.CounterVec
	parseDuration prometheus.Histogram
	runs          *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// NewMetrics registers every collector, including the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awrlens_uploads_total",
			Help: "Report uploads by outcome.",
		}, []string{"result"}),
		parses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awrlens_parse_total",
			Help: "Finished parses by outcome.",
		}, []string{"result"}),
		parseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "awrlens_parse_duration_seconds",
			Help:    "Time from parsing to a terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awrlens_analysis_runs_total",
			Help: "Completed diagnostic runs; stale runs were superseded before they landed.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awrlens_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads, m.parses, m.parseDuration, m.runs, m.requests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveUpload counts one upload outcome.
func (m *Metrics) ObserveUpload(result string) {
	m.uploads.WithLabelValues(result).Inc()
}

// ObserveParse records a finished parse.
func (m *Metrics) ObserveParse(result string, elapsed time.Duration) {
	m.parses.WithLabelValues(result).Inc()
	m.parseDuration.Observe(elapsed.Seconds())
}

// ObserveRun records a completed diagnostic run.
func (m *Metrics) ObserveRun(_, _ int64, _ int, applied bool) {
	result := "applied"
	if !applied {
		result = "stale"
	}
	m.runs.WithLabelValues(result).Inc()
}

// ObserveHTTP counts one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
