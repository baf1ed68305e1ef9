// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	ContentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_calls_total",
			Help: "Content generation calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	ContentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_call_duration_seconds",
			Help:    "Duration of content generation calls",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)

	SnapshotSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulation_snapshot_saves_total",
			Help: "Simulation snapshot writes by status and outcome",
		},
		[]string{"status", "outcome"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "simulation_sessions_active",
			Help: "Simulation sessions held in memory",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Open WebSocket connections on this instance",
		},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

var once sync.Once

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(ContentCalls)
		prometheus.MustRegister(ContentDuration)
		prometheus.MustRegister(SnapshotSaves)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(JobsProcessed)
		prometheus.MustRegister(WSConnections)
	})
}

// Middleware records count and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
