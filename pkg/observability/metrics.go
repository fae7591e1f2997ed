package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pluginhost"

// Metrics holds the Prometheus collectors for plugin lifecycle and the admin API.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lifecycle metrics
	StageTotal     *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	Declarations   *prometheus.GaugeVec
	PluginHealth   *prometheus.GaugeVec
	PluginsByState *prometheus.GaugeVec

	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "plugin_stage_total",
				Help:      "Pipeline stage outcomes per plugin category",
			},
			[]string{"category", "stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "plugin_stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"category", "stage"},
		),
		Declarations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "discovery_declarations",
				Help:      "Declarations seen by the last discovery run",
			},
			[]string{"category", "outcome"},
		),
		PluginHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "plugin_health",
				Help:      "Last health check result (1 healthy, 0.5 degraded, 0 unhealthy)",
			},
			[]string{"category", "name"},
		),
		PluginsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "plugins",
				Help:      "Registered plugins by lifecycle state",
			},
			[]string{"state"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Admin API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "Admin API request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.StageTotal,
		m.StageDuration,
		m.Declarations,
		m.PluginHealth,
		m.PluginsByState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveStage records one stage outcome and its duration
func (m *Metrics) ObserveStage(category, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageTotal.WithLabelValues(category, stage, outcome).Inc()
	m.StageDuration.WithLabelValues(category, stage).Observe(d.Seconds())
}

// SetDeclarations records discovery counts for a category
func (m *Metrics) SetDeclarations(category string, resolved, failed int) {
	if m == nil {
		return
	}
	m.Declarations.WithLabelValues(category, "resolved").Set(float64(resolved))
	m.Declarations.WithLabelValues(category, "failed").Set(float64(failed))
}

// SetHealth records the numeric value of a health state
func (m *Metrics) SetHealth(category, name, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "HEALTHY":
		v = 1
	case "DEGRADED":
		v = 0.5
	}
	m.PluginHealth.WithLabelValues(category, name).Set(v)
}

// SetStateCounts replaces the per-state plugin gauge
func (m *Metrics) SetStateCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.PluginsByState.Reset()
	for state, n := range counts {
		m.PluginsByState.WithLabelValues(state).Set(float64(n))
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments admin requests. Paths are labelled by
// their mux route template so refs in the URL do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint exposes gatherer on /metrics
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
