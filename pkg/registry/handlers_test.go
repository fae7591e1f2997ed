package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// startedRouter returns a router over a registry with one started and one
// failed provider.
func startedRouter(t *testing.T) (*mux.Router, *Registry) {
	t.Helper()
	rec := &recorder{}
	r := newTestRegistry(t)
	mustRegister(t, r, plugins.CategorySecrets, classOf(rec, hooked(rec, "env")))
	mustRegister(t, r, plugins.CategoryCatalog, classOf(rec, hooked(rec, "polaris", refSecrets)))
	broken := hooked(rec, "s3")
	broken.startErr = errors.New("bucket missing")
	mustRegister(t, r, plugins.CategoryStorage, classOf(rec, broken))

	_, err := r.StartAll(context.Background())
	require.NoError(t, err)

	router := mux.NewRouter()
	NewHandlers(r).RegisterRoutes(router)
	return router, r
}

func serve(router http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_ListPlugins(t *testing.T) {
	router, _ := startedRouter(t)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantTotal  int
	}{
		{name: "all", target: "/api/v1/plugins", wantStatus: http.StatusOK, wantTotal: 3},
		{name: "by category", target: "/api/v1/plugins?category=secrets", wantStatus: http.StatusOK, wantTotal: 1},
		{name: "several categories", target: "/api/v1/plugins?category=SECRETS,storage", wantStatus: http.StatusOK, wantTotal: 2},
		{name: "by state", target: "/api/v1/plugins?state=FAILED", wantStatus: http.StatusOK, wantTotal: 1},
		{name: "without failed", target: "/api/v1/plugins?include_failed=false", wantStatus: http.StatusOK, wantTotal: 2},
		{name: "failed state hidden", target: "/api/v1/plugins?state=FAILED&include_failed=false", wantStatus: http.StatusOK, wantTotal: 0},
		{name: "bad category", target: "/api/v1/plugins?category=widgets", wantStatus: http.StatusBadRequest},
		{name: "bad include_failed", target: "/api/v1/plugins?include_failed=maybe", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.target)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decodeJSON(t, w.Body.Bytes())
			assert.EqualValues(t, tt.wantTotal, body["total"])
			assert.Len(t, body["plugins"], tt.wantTotal)
		})
	}
}

func TestHandlers_ListCategory(t *testing.T) {
	router, _ := startedRouter(t)

	w := serve(router, "/api/v1/plugins/catalog")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w.Body.Bytes())
	assert.Equal(t, "CATALOG", body["category"])
	assert.Equal(t, "platform.catalogs", body["namespace"])
	assert.Equal(t, []interface{}{"polaris"}, body["names"])

	// failed providers are not listed
	w = serve(router, "/api/v1/plugins/STORAGE")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeJSON(t, w.Body.Bytes())
	assert.Equal(t, []interface{}{}, body["names"])

	w = serve(router, "/api/v1/plugins/widgets")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_GetPlugin(t *testing.T) {
	router, _ := startedRouter(t)

	w := serve(router, "/api/v1/plugins/CATALOG/polaris")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w.Body.Bytes())
	assert.Equal(t, "CATALOG/polaris", body["ref"])
	assert.Equal(t, "STARTED", body["state"])
	assert.Equal(t, []interface{}{"SECRETS/env"}, body["dependencies"])

	w = serve(router, "/api/v1/plugins/STORAGE/s3")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeJSON(t, w.Body.Bytes())
	assert.Equal(t, "FAILED", body["state"])
	assert.Equal(t, "startup", body["failed_stage"])
	assert.Equal(t, "bucket missing", body["error"])

	w = serve(router, "/api/v1/plugins/COMPUTE/spark")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeJSON(t, w.Body.Bytes())["error"], "COMPUTE/spark")
}

func TestHandlers_GetHealth(t *testing.T) {
	router, _ := startedRouter(t)

	w := serve(router, "/api/v1/plugins/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w.Body.Bytes())
	require.Len(t, body, 2)
	env := body["SECRETS/env"].(map[string]interface{})
	assert.Equal(t, "HEALTHY", env["state"])
}

func TestHandlers_GetStartupReport(t *testing.T) {
	r := newTestRegistry(t)
	router := mux.NewRouter()
	NewHandlers(r).RegisterRoutes(router)

	w := serve(router, "/api/v1/startup-report")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	router, _ = startedRouter(t)
	w = serve(router, "/api/v1/startup-report")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w.Body.Bytes())
	assert.Equal(t, "degraded", body["status"])
	assert.Len(t, body["outcomes"], 3)
}

func TestHandlers_GraphRoutes(t *testing.T) {
	router, _ := startedRouter(t)

	w := serve(router, "/api/v1/graph/order")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w.Body.Bytes())
	order := body["order"].([]interface{})
	require.Len(t, order, 3)
	assert.Equal(t, "SECRETS/env", order[0])

	w = serve(router, "/api/v1/graph?ref=CATALOG/polaris&direction=dependencies")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeJSON(t, w.Body.Bytes())
	assert.Len(t, body["nodes"], 2)
	assert.Len(t, body["edges"], 1)
}
