package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pluginhost/pkg/dependencies"
	"github.com/platinummonkey/pluginhost/pkg/httputil"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// Handlers provides the read-only admin API over a Registry
type Handlers struct {
	registry *Registry
	graph    *dependencies.GraphHandlers
}

// NewHandlers creates admin handlers
func NewHandlers(r *Registry) *Handlers {
	return &Handlers{
		registry: r,
		graph:    dependencies.NewGraphHandlers(r),
	}
}

// RegisterRoutes registers all admin routes, including the dependency graph
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/plugins", h.ListPlugins).Methods(http.MethodGet)
	// registered before {category} so "health" is not read as a category
	r.HandleFunc("/api/v1/plugins/health", h.GetHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/plugins/{category}", h.ListCategory).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/plugins/{category}/{name}", h.GetPlugin).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/startup-report", h.GetStartupReport).Methods(http.MethodGet)

	h.graph.RegisterRoutes(r)
}

// ListPlugins handles GET /api/v1/plugins. ?category= filters, ?state= filters by
// lifecycle state and ?include_failed=false hides FAILED providers.
func (h *Handlers) ListPlugins(w http.ResponseWriter, r *http.Request) {
	categories, err := httputil.ParseQueryCategories(r, "category")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	state := plugins.LifecycleState(httputil.ParseQueryString(r, "state", ""))
	includeFailed, err := httputil.ParseQueryBool(r, "include_failed", true)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	wanted := make(map[plugins.Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	out := []PluginInfo{}
	for _, info := range h.registry.Plugins() {
		if len(wanted) > 0 && !wanted[info.Category] {
			continue
		}
		if state != "" && info.State != state {
			continue
		}
		if !includeFailed && info.State == plugins.StateFailed {
			continue
		}
		out = append(out, info)
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"plugins": out,
		"total":   len(out),
	})
}

// ListCategory handles GET /api/v1/plugins/{category}
func (h *Handlers) ListCategory(w http.ResponseWriter, r *http.Request) {
	raw, err := httputil.ParsePathString(r, "category")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	category, err := plugins.ParseCategory(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"category":  category,
		"namespace": category.Namespace(),
		"names":     h.registry.List(category),
	})
}

// GetPlugin handles GET /api/v1/plugins/{category}/{name}
func (h *Handlers) GetPlugin(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathRefOrError(w, r)
	if !ok {
		return
	}

	info, err := h.registry.Info(ref.Category, ref.Name)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteSuccess(w, info)
}

// GetHealth handles GET /api/v1/plugins/health
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.registry.healthTimeout+time.Second)
	defer cancel()

	httputil.WriteSuccess(w, h.registry.HealthCheckAll(ctx))
}

// GetStartupReport handles GET /api/v1/startup-report
func (h *Handlers) GetStartupReport(w http.ResponseWriter, r *http.Request) {
	report := h.registry.Report()
	if report == nil {
		httputil.WriteServiceUnavailable(w, "startup has not completed")
		return
	}
	httputil.WriteSuccess(w, report)
}
