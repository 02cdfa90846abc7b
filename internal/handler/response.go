package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"go.uber.org/zap"
)

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.Log.Error("failed to encode response", zap.Error(err))
	}
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// WriteServiceError maps presence errors to HTTP responses.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, presence.ErrInvalidArgument):
		WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, presence.ErrBackendUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		observability.Log.Error("internal_error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
