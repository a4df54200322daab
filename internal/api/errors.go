package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

// Error types in the JSON error body.
const (
	errInvalidRequest = "invalid_request_error"
	errTimeout        = "timeout_error"
	errNotFound       = "not_found_error"
	errAuth           = "authentication_error"
	errAPI            = "api_error"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps a service error onto a status code and error type.
func writeError(w http.ResponseWriter, err error) {
	var to *pipeline.TimeoutError
	switch {
	case errors.As(err, &to):
		httpError(w, http.StatusGatewayTimeout, errTimeout, "%s", pipeline.TimeoutMessage)
	case errors.Is(err, jobs.ErrNotFound):
		httpError(w, http.StatusNotFound, errNotFound, "%v", err)
	case errors.Is(err, jobs.ErrFinished):
		httpError(w, http.StatusConflict, errInvalidRequest, "%v", err)
	case pipeline.Category(err) == pipeline.CategoryInvalidInput:
		httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, errAPI, "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

// decodeBody reads a size-limited JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, errInvalidRequest, "invalid request body: %v", err)
		return false
	}
	return true
}
