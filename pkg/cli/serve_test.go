package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/config"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/registry"
)

// stubProvider reports a fixed health state
type stubProvider struct {
	name  string
	state plugins.HealthState
}

func (s *stubProvider) Metadata() plugins.Metadata {
	return plugins.Metadata{Name: s.name, Version: "1.0.0", HostAPIVersion: "1.0.0"}
}

func (s *stubProvider) HealthCheck(ctx context.Context) plugins.HealthStatus {
	return plugins.HealthStatus{State: s.state, Message: s.name + " is " + string(s.state)}
}

func testApp(t *testing.T, logs io.Writer) *app {
	t.Helper()
	log := logrus.New()
	log.SetOutput(logs)
	log.SetFormatter(&logrus.JSONFormatter{})
	return &app{cfg: config.Default(), log: log}
}

func startedRegistry(t *testing.T, stubs ...*stubProvider) *registry.Registry {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg := registry.New(registry.WithLogger(log))
	for _, s := range stubs {
		require.NoError(t, reg.RegisterInstance(plugins.CategoryCompute, s.name, s))
	}
	_, err := reg.StartAll(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { reg.ShutdownAll(context.Background()) })
	return reg
}

func TestHandler(t *testing.T) {
	a := testApp(t, io.Discard)
	reg := startedRegistry(t, &stubProvider{name: "duckdb", state: plugins.HealthHealthy})

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	srv := httptest.NewServer(a.handler(reg, promReg, metrics))
	defer srv.Close()

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{path: "/health/live", status: http.StatusOK, contains: "HEALTHY"},
		{path: "/health/ready", status: http.StatusOK, contains: `"ready":true`},
		{path: "/health", status: http.StatusOK, contains: "COMPUTE/duckdb"},
		{path: "/api/v1/plugins", status: http.StatusOK, contains: "duckdb"},
		{path: "/api/v1/plugins/COMPUTE/duckdb", status: http.StatusOK, contains: "STARTED"},
		{path: "/api/v1/plugins/COMPUTE/missing", status: http.StatusNotFound},
		{path: "/api/v1/startup-report", status: http.StatusOK, contains: "healthy"},
		{path: "/api/v1/graph/order", status: http.StatusOK, contains: "COMPUTE/duckdb"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
			if tt.contains != "" {
				assert.Contains(t, string(body), tt.contains)
			}
		})
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `pluginhost_http_requests_total{method="GET",route="/api/v1/plugins",status="200"} 1`)
}

func TestHandler_NoMetrics(t *testing.T) {
	a := testApp(t, io.Discard)
	reg := startedRegistry(t)

	srv := httptest.NewServer(a.handler(reg, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunHealthChecks(t *testing.T) {
	var logs bytes.Buffer
	a := testApp(t, &logs)
	reg := startedRegistry(t,
		&stubProvider{name: "duckdb", state: plugins.HealthHealthy},
		&stubProvider{name: "spark", state: plugins.HealthDegraded},
	)

	statuses := a.runHealthChecks(context.Background(), reg)
	require.Len(t, statuses, 2)
	assert.Equal(t, plugins.HealthDegraded, statuses[plugins.NewRef(plugins.CategoryCompute, "spark")].State)

	assert.Contains(t, logs.String(), "spark is DEGRADED")
	assert.NotContains(t, logs.String(), "duckdb is HEALTHY")
}

func TestScheduleHealthChecks(t *testing.T) {
	reg := startedRegistry(t)

	tests := []struct {
		name     string
		schedule string
		wantCron bool
		wantErr  bool
	}{
		{name: "disabled", schedule: ""},
		{name: "every", schedule: "@every 1h", wantCron: true},
		{name: "standard", schedule: "*/5 * * * *", wantCron: true},
		{name: "invalid", schedule: "whenever", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testApp(t, io.Discard)
			a.cfg.Server.HealthSchedule = tt.schedule

			c, err := a.scheduleHealthChecks(reg)
			if tt.wantErr {
				assert.ErrorContains(t, err, "failed to schedule health checks")
				return
			}
			require.NoError(t, err)
			if !tt.wantCron {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Len(t, c.Entries(), 1)
			<-c.Stop().Done()
		})
	}
}
