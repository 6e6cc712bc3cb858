package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"microtrax/internal/models"
)

// Metrics owns the process collectors. One instance per process; tests build
// their own so registrations never collide.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	steamRequests *prometheus.CounterVec
	steamDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "microtrax",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microtrax",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microtrax",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		steamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steam_requests_total",
			Help: "Calls made to the Steam Web API by operation and outcome.",
		}, []string{"op", "outcome"}),
		steamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steam_request_duration_seconds",
			Help:    "Latency of Steam Web API calls.",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms to ~13s
		}, []string{"op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microtrax",
			Subsystem: "purchases",
			Name:      "outcomes_total",
			Help:      "Finalize outcomes by application and status.",
		}, []string{"app_id", "status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microtrax",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microtrax",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"job"}),
	}
	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.steamRequests,
		m.steamDuration,
		m.outcomes,
		m.jobRuns,
		m.jobDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument wraps next with HTTP request metrics.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// ObserveSteamCall implements services.SteamMetrics.
func (m *Metrics) ObserveSteamCall(op, outcome string, elapsed time.Duration) {
	m.steamRequests.WithLabelValues(op, outcome).Inc()
	m.steamDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordJob records one scheduled job run.
func (m *Metrics) RecordJob(job string, elapsed time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// Name and Notify let the collector ride the outcome dispatcher.
func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Notify(_ context.Context, o models.PurchaseOutcome) error {
	m.outcomes.WithLabelValues(o.AppID, string(o.Status)).Inc()
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for WebSocket upgrades.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// canonicalPath keeps label cardinality bounded: ids in admin routes collapse.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "currencies" && len(parts) > 1:
		return "/currencies/:code"
	case parts[0] == "admin" && len(parts) > 2 && parts[1] == "products":
		return "/admin/products/:id"
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}
