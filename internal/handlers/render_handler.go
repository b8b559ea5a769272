package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/render"
)

// Capturer renders a display page to JPEG bytes on demand.
type Capturer interface {
	Submit(ctx context.Context, slug string) ([]byte, error)
}

// RenderHandler serves on-demand still captures.
type RenderHandler struct {
	capturer Capturer
	logger   *zap.Logger
}

// NewRenderHandler creates the render endpoint. A nil capturer answers 503.
func NewRenderHandler(c Capturer, logger *zap.Logger) *RenderHandler {
	return &RenderHandler{capturer: c, logger: logger}
}

// handleRender handles GET /render/{displayId}
func (h *RenderHandler) handleRender(w http.ResponseWriter, r *http.Request) {
	displayID := strings.TrimSpace(mux.Vars(r)["displayId"])
	if displayID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "displayId required")
		return
	}
	if h.capturer == nil {
		writeError(w, http.StatusServiceUnavailable, CodeRenderUnavailable, "rendering is not available on this server")
		return
	}

	img, err := h.capturer.Submit(r.Context(), displayID)
	if err != nil {
		if errors.Is(err, render.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, CodeRenderUnavailable, err.Error())
			return
		}
		h.logger.Error("Render failed", zap.String("display_id", displayID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeServerError, "screenshot failed")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}
