package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	jobsTotal     *prometheus.CounterVec
	wsConnections prometheus.Gauge
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Primarily used by tests
// to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one served request. route should be the
// matched pattern, not the raw path, to keep cardinality bounded.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m := sanitizeLabel(method, "unknown")
	r := sanitizeLabel(route, "unmatched")
	status := strconv.Itoa(code)

	mu.RLock()
	defer mu.RUnlock()
	if httpRequests != nil {
		httpRequests.WithLabelValues(m, r, status).Inc()
	}
	if httpDuration != nil {
		httpDuration.WithLabelValues(m, r).Observe(durationSeconds(duration))
	}
}

// IncJobStatus counts one job lifecycle transition by status name.
func IncJobStatus(status string) {
	s := sanitizeLabel(status, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(s).Inc()
	}
}

// IncWSConnections / DecWSConnections track live status sockets.
func IncWSConnections() {
	mu.RLock()
	defer mu.RUnlock()
	if wsConnections != nil {
		wsConnections.Inc()
	}
}

func DecWSConnections() {
	mu.RLock()
	defer mu.RUnlock()
	if wsConnections != nil {
		wsConnections.Dec()
	}
}

// RegisterQueueDepth exposes the scheduler's total queued-job count as a
// gauge. Call once at startup, after the scheduler exists.
func RegisterQueueDepth(fn func() float64) {
	mu.RLock()
	defer mu.RUnlock()
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "canvasd",
		Name:      "job_queue_depth",
		Help:      "Jobs currently waiting across all user queues.",
	}, fn))
}

// RegisterActiveJobs exposes whether a job is executing right now.
// Call once at startup.
func RegisterActiveJobs(fn func() float64) {
	mu.RLock()
	defer mu.RUnlock()
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "canvasd",
		Name:      "active_jobs",
		Help:      "Jobs currently executing (0 or 1 with a single upstream).",
	}, fn))
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvasd",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests grouped by method, route, and status code.",
	}, []string{"method", "route", "code"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canvasd",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests by method and route.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvasd",
		Name:      "jobs_total",
		Help:      "Job lifecycle transitions by status (queued, complete, error, cancelled).",
	}, []string{"status"})

	ws := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "canvasd",
		Name:      "ws_connections",
		Help:      "Live status WebSocket connections.",
	})

	registry.MustRegister(reqTotal, reqDuration, jobs, ws)

	reg = registry
	httpRequests = reqTotal
	httpDuration = reqDuration
	jobsTotal = jobs
	wsConnections = ws
}

func sanitizeLabel(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
		case r == '/' || r == '{' || r == '}' || r == '_' || r == '-' || r == '.' || r == '*':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
