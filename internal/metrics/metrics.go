// Package metrics exposes Prometheus metrics for pens, runs and the
// WebSocket bridge.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry,
// so tests and multiple servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Playground metrics
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	ConsoleEntries *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	Exports        prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Catalog metrics
	CatalogLessons prometheus.Gauge
	CatalogReloads prometheus.Counter
}

// New creates a metrics collector with Go and process collectors
// registered alongside the tinkerpen metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinkerpen_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinkerpen_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinkerpen_runs_total",
				Help: "Pen runs by trigger and outcome",
			},
			[]string{"trigger", "result"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinkerpen_run_duration_seconds",
				Help:    "Time from run start until the sandbox accepted the document",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
			},
			[]string{"trigger"},
		),
		ConsoleEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinkerpen_console_entries_total",
				Help: "Console entries accepted from guests",
			},
			[]string{"level"},
		),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tinkerpen_sessions_active",
			Help: "Number of live pens",
		}),
		Exports: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinkerpen_exports_total",
			Help: "Archives and files exported",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tinkerpen_websocket_connections",
			Help: "Number of open WebSocket connections",
		}),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinkerpen_websocket_messages_total",
				Help: "WebSocket messages by direction and action",
			},
			[]string{"direction", "action"},
		),

		CatalogLessons: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tinkerpen_catalog_lessons",
			Help: "Lessons currently loaded",
		}),
		CatalogReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinkerpen_catalog_reloads_total",
			Help: "Catalog reloads triggered by file changes",
		}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRun records one pen run.
func (m *Metrics) RecordRun(trigger string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RunsTotal.WithLabelValues(trigger, result).Inc()
	m.RunDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordConsole records one accepted console entry.
func (m *Metrics) RecordConsole(level string) {
	m.ConsoleEntries.WithLabelValues(level).Inc()
}

// RecordWSMessage records one WebSocket message; direction is "in" or "out".
func (m *Metrics) RecordWSMessage(direction, action string) {
	m.WSMessages.WithLabelValues(direction, action).Inc()
}

// Middleware records request counts and latency. The route label is the
// ServeMux pattern that matched, which keeps pen ids out of the labels.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status. It passes Hijack and
// Flush through so WebSocket upgrades keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
