// Package httputil provides the JSON response, request parsing and middleware
// helpers shared by the admin API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error  string               `json:"error"`
	Fields []plugins.FieldError `json:"fields,omitempty"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var cfgErr *plugins.ConfigValidationError
	if errors.As(err, &cfgErr) {
		resp.Fields = cfgErr.Errors
	}
	WriteJSON(w, status, resp)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// StatusFor maps plugin errors onto HTTP status codes
func StatusFor(err error) int {
	var (
		notFound  *plugins.PluginNotFoundError
		duplicate *plugins.DuplicateRegistrationError
		cfgErr    *plugins.ConfigValidationError
		cyclic    *plugins.CyclicDependencyError
		missing   *plugins.MissingDependencyError
		timeout   *plugins.LifecycleTimeoutError
	)
	switch {
	case errors.As(err, &notFound):
		if notFound.State != "" {
			return http.StatusServiceUnavailable
		}
		return http.StatusNotFound
	case errors.Is(err, plugins.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &duplicate), errors.As(err, &cyclic), errors.As(err, &missing),
		errors.Is(err, plugins.ErrRegistryStarted):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorFor writes err with the status StatusFor picks
func WriteErrorFor(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}

// WriteInternalError writes an internal server error response (500 Internal Server Error)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err)
}
