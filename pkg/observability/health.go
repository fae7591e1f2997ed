package observability

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pluginhost/pkg/httputil"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// ProviderHealth is the view of the plugin registry the health endpoints need
type ProviderHealth interface {
	// Readiness reports whether startup finished and the platform can serve
	Readiness() (bool, string)
	HealthCheckAll(ctx context.Context) map[plugins.Ref]plugins.HealthStatus
}

// HealthReport is the aggregated health document served by /health
type HealthReport struct {
	Status    plugins.HealthState                  `json:"status"`
	Timestamp time.Time                            `json:"timestamp"`
	Version   string                               `json:"version,omitempty"`
	Ready     bool                                 `json:"ready"`
	Message   string                               `json:"message,omitempty"`
	Plugins   map[plugins.Ref]plugins.HealthStatus `json:"plugins,omitempty"`
	Failing   []plugins.Ref                        `json:"failing,omitempty"` // not HEALTHY, sorted
}

// HealthChecker serves liveness, readiness and aggregated plugin health
type HealthChecker struct {
	source  ProviderHealth
	version string
	timeout time.Duration
}

// NewHealthChecker creates a health checker over source. timeout bounds a single /health request.
func NewHealthChecker(source ProviderHealth, version string, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{source: source, version: version, timeout: timeout}
}

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":    plugins.HealthHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 until startup has finished cleanly
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ready, msg := h.source.Readiness()
	body := map[string]interface{}{
		"ready":   ready,
		"message": msg,
	}
	if !ready {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	httputil.WriteSuccess(w, body)
}

// Health runs every plugin health check and returns the worst state
func (h *HealthChecker) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.Check(ctx)
	if report.Status == plugins.HealthUnhealthy {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, report)
		return
	}
	httputil.WriteSuccess(w, report)
}

// Check aggregates plugin health. A registry that is not ready is UNHEALTHY;
// otherwise the report takes the worst plugin state.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	ready, msg := h.source.Readiness()
	report := HealthReport{
		Status:    plugins.HealthHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Ready:     ready,
		Message:   msg,
		Plugins:   h.source.HealthCheckAll(ctx),
	}

	for _, st := range report.Plugins {
		report.Status = worse(report.Status, st.State)
	}
	report.Failing = report.Unhealthy()
	if !ready {
		report.Status = plugins.HealthUnhealthy
	}
	return report
}

// Unhealthy lists refs whose last check was not HEALTHY, sorted
func (r HealthReport) Unhealthy() []plugins.Ref {
	var out []plugins.Ref
	for ref, st := range r.Plugins {
		if st.State != plugins.HealthHealthy {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

var healthRank = map[plugins.HealthState]int{
	plugins.HealthHealthy:   0,
	plugins.HealthDegraded:  1,
	plugins.HealthUnhealthy: 2,
}

func worse(a, b plugins.HealthState) plugins.HealthState {
	if healthRank[b] > healthRank[a] {
		return b
	}
	return a
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
