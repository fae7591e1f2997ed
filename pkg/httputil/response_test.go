package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, errors.New("test error"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "test error")
	assert.NotContains(t, w.Body.String(), "fields")
}

func TestWriteErrorIncludesConfigFields(t *testing.T) {
	w := httptest.NewRecorder()
	err := &plugins.ConfigValidationError{
		Ref: plugins.NewRef(plugins.CategoryCompute, "duckdb"),
		Errors: []plugins.FieldError{
			{Path: "threads", Message: "missing required field"},
		},
	}

	WriteError(w, http.StatusUnprocessableEntity, fmt.Errorf("startup: %w", err))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "threads", body.Fields[0].Path)
	assert.Equal(t, "missing required field", body.Fields[0].Message)
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"resource not found"}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	ref := plugins.NewRef(plugins.CategoryCompute, "duckdb")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not registered", &plugins.PluginNotFoundError{Ref: ref}, http.StatusNotFound},
		{"failed", &plugins.PluginNotFoundError{Ref: ref, State: plugins.StateFailed}, http.StatusServiceUnavailable},
		{"closed", plugins.ErrRegistryClosed, http.StatusServiceUnavailable},
		{"duplicate", &plugins.DuplicateRegistrationError{Ref: ref}, http.StatusConflict},
		{"cycle", &plugins.CyclicDependencyError{Cycles: [][]plugins.Ref{{ref}}}, http.StatusConflict},
		{"started", fmt.Errorf("start: %w", plugins.ErrRegistryStarted), http.StatusConflict},
		{"config", &plugins.ConfigValidationError{Ref: ref}, http.StatusUnprocessableEntity},
		{"timeout", &plugins.LifecycleTimeoutError{Ref: ref, Stage: plugins.StageStartup, Timeout: time.Second}, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteErrorFor(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorFor(w, &plugins.PluginNotFoundError{Ref: plugins.NewRef(plugins.CategorySecrets, "vault")})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "plugin not found: SECRETS/vault")
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		want  int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "x") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "x") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "x") }, http.StatusConflict},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "x") }, http.StatusServiceUnavailable},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("x")) }, http.StatusInternalServerError},
		{"success", func(w http.ResponseWriter) { WriteSuccess(w, "x") }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
