package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/identity"
	"github.com/koios/signage-sync/internal/layout"
	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/pkg/models"
)

// Stable error codes returned in JSON error bodies.
const (
	CodeServerNotConfigured = "SERVER_NOT_CONFIGURED"
	CodeCodeNotFound        = "CODE_NOT_FOUND"
	CodeNotFound            = "NOT_FOUND"
	CodeTokenRequired       = "DEVICE_TOKEN_REQUIRED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeRenderUnavailable   = "RENDER_UNAVAILABLE"
	CodeBadRequest          = "BAD_REQUEST"
	CodeServerError         = "SERVER_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: code, Message: message})
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
}

// classify maps a domain error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotConfigured), errors.Is(err, layout.ErrNotConfigured):
		return http.StatusServiceUnavailable, CodeServerNotConfigured
	case errors.Is(err, identity.ErrMissingCredential):
		return http.StatusUnauthorized, CodeTokenRequired
	case errors.Is(err, identity.ErrInvalidCredential):
		return http.StatusUnauthorized, CodeInvalidToken
	case errors.Is(err, identity.ErrCodeNotFound):
		return http.StatusNotFound, CodeCodeNotFound
	case errors.Is(err, identity.ErrDisplayNotFound), errors.Is(err, layout.ErrScreenNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, render.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeRenderUnavailable
	default:
		return http.StatusInternalServerError, CodeServerError
	}
}

// writeDomainError answers with the classified status. Only unexpected
// failures are logged at error level.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeError(w, status, code, "")
		return
	}
	logger.Debug("Request rejected", zap.String("op", op), zap.String("code", code), zap.Error(err))
	writeError(w, status, code, err.Error())
}
