package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/identity"
	"github.com/koios/signage-sync/internal/layout"
	"github.com/koios/signage-sync/internal/metrics"
	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/internal/version"
	"github.com/koios/signage-sync/pkg/models"
)

const maxBodyBytes = 64 << 10

// RenderQueue accepts render requests for out-of-band processing.
type RenderQueue interface {
	EnqueueRenderRequest(ctx context.Context, req *models.RenderRequest) error
}

// DeviceHandler serves the playback device API and the public layout lookup.
type DeviceHandler struct {
	store     store.Store
	identity  *identity.Resolver
	versions  *version.Resolver
	assembler *layout.Assembler
	public    *layout.Assembler
	queue     RenderQueue
	storage   config.StorageConfig
	device    config.DeviceConfig
	logger    *zap.Logger
}

// NewDeviceHandler creates the device API. A nil store makes every
// store-backed endpoint answer 503.
func NewDeviceHandler(s store.Store, storageCfg config.StorageConfig, deviceCfg config.DeviceConfig, logger *zap.Logger) *DeviceHandler {
	h := &DeviceHandler{
		store:     s,
		assembler: layout.NewAssembler(s, storageCfg.BaseURL, logger),
		public:    layout.NewAssembler(s, storageCfg.BaseURL, logger).WithNoContentTransition(layout.PublicNoContentTransition),
		storage:   storageCfg,
		device:    deviceCfg,
		logger:    logger,
	}
	if s != nil {
		h.identity = identity.NewResolver(s, logger)
		h.versions = version.NewResolver(s)
	}
	return h
}

// WithPublishedSlides limits versioned slide addresses to images c reports
// as published.
func (h *DeviceHandler) WithPublishedSlides(c layout.SlideCounter) *DeviceHandler {
	h.assembler.WithPublished(c)
	h.public.WithPublished(c)
	return h
}

// WithQueue enables slide generation requests on activation.
func (h *DeviceHandler) WithQueue(q RenderQueue) *DeviceHandler {
	h.queue = q
	return h
}

func (h *DeviceHandler) configured(w http.ResponseWriter) bool {
	if h.store == nil {
		noCache(w)
		writeError(w, http.StatusServiceUnavailable, CodeServerNotConfigured, "rotation store not configured")
		return false
	}
	return true
}

// handleRegister handles POST /device/register
func (h *DeviceHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}

	var req models.RegisterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	if errs := ValidateRegister(&req); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, joinMessages(errs))
		return
	}

	ctx := r.Context()
	activation, err := h.identity.Activate(ctx, req.DisplayCode, req.DeviceID)
	if err != nil {
		if errors.Is(err, identity.ErrCodeNotFound) {
			metrics.DeviceActivations.WithLabelValues("not_found").Inc()
		} else {
			metrics.DeviceActivations.WithLabelValues("error").Inc()
		}
		noCache(w)
		writeDomainError(w, h.logger, "register", err)
		return
	}

	screen := activation.Screen
	rotations, err := h.store.ListActiveRotations(ctx, screen.ID)
	if err != nil {
		metrics.DeviceActivations.WithLabelValues("error").Inc()
		noCache(w)
		writeDomainError(w, h.logger, "register", err)
		return
	}
	metrics.DeviceActivations.WithLabelValues("success").Inc()

	lay := h.assembler.Build(ctx, screen, rotations)
	h.requestSlides(ctx, screen.ID, len(rotations))

	noCache(w)
	writeJSON(w, http.StatusOK, models.RegisterResponse{
		DeviceToken:            activation.Token,
		ScreenID:               screen.ID,
		Layout:                 lay,
		LayoutVersion:          lay.Version,
		RefreshIntervalSeconds: h.device.RegisterRefreshSeconds,
	})
}

// requestSlides enqueues slide generation for a freshly activated screen.
// Failures are logged; activation never depends on them.
func (h *DeviceHandler) requestSlides(ctx context.Context, screenID string, rotations int) {
	if rotations == 0 || h.queue == nil || !h.storage.Configured() {
		h.logger.Debug("Skipping slide generation on activation",
			zap.String("screen_id", screenID),
			zap.Int("rotations", rotations),
			zap.Bool("queue", h.queue != nil),
			zap.Bool("storage", h.storage.Configured()))
		return
	}

	req := &models.RenderRequest{
		Type:     models.RenderRequestType,
		UUID:     uuid.NewString(),
		ScreenID: screenID,
		Mode:     models.RenderModeSlides,
		Reason:   "device_register",
		QueuedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := h.queue.EnqueueRenderRequest(ctx, req); err != nil {
		metrics.RenderRequestsEnqueued.WithLabelValues("error").Inc()
		h.logger.Error("Failed to enqueue slide generation",
			zap.String("screen_id", screenID),
			zap.Error(err))
		return
	}
	metrics.RenderRequestsEnqueued.WithLabelValues("success").Inc()
	h.logger.Info("Queued slide generation",
		zap.String("screen_id", screenID),
		zap.String("uuid", req.UUID))
}

// authenticate resolves the request's device credential to its screen.
func (h *DeviceHandler) authenticate(r *http.Request) (*models.Screen, error) {
	token, err := identity.FromRequest(r)
	if err != nil {
		return nil, err
	}
	return h.identity.Authenticate(r.Context(), token)
}

// handleLayout handles GET /device/layout
func (h *DeviceHandler) handleLayout(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	if !h.configured(w) {
		return
	}

	screen, err := h.authenticate(r)
	if err != nil {
		writeDomainError(w, h.logger, "device_layout", err)
		return
	}

	lay, err := h.assembler.Assemble(r.Context(), screen.ID)
	if err != nil {
		writeDomainError(w, h.logger, "device_layout", err)
		return
	}

	writeJSON(w, http.StatusOK, models.LayoutResponse{
		Layout:                 lay,
		LayoutVersion:          lay.Version,
		RefreshIntervalSeconds: h.device.DeviceLayoutRefreshSeconds,
	})
}

// handleVersion handles GET /device/version
func (h *DeviceHandler) handleVersion(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	if !h.configured(w) {
		return
	}

	screen, err := h.authenticate(r)
	if err != nil {
		writeDomainError(w, h.logger, "device_version", err)
		return
	}

	ver, err := h.versions.Resolve(r.Context(), screen.ID)
	if err != nil {
		writeDomainError(w, h.logger, "device_version", err)
		return
	}

	writeJSON(w, http.StatusOK, models.VersionResponse{
		LayoutVersion:          ver,
		RefreshIntervalSeconds: h.device.VersionRefreshSeconds,
	})
}

// handleHeartbeat handles POST /device/heartbeat. The token is not checked
// against the store; heartbeats are informational.
func (h *DeviceHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid JSON body"})
		return
	}
	if errs := ValidateHeartbeat(&req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": joinMessages(errs)})
		return
	}

	screenID, _ := identity.Parse(req.DeviceToken)
	fields := []zap.Field{
		zap.String("screen_id", screenID),
		zap.String("playback_status", req.PlaybackStatus),
		zap.String("app_version", req.AppVersion),
	}
	if req.RAMUsageMB != nil {
		fields = append(fields, zap.Float64("ram_usage_mb", *req.RAMUsageMB))
	}
	if req.LastError != "" {
		fields = append(fields, zap.String("last_error", req.LastError))
	}
	h.logger.Info("Device heartbeat", fields...)
	metrics.DeviceHeartbeats.Inc()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePublicLayout handles GET /layout/{displayId}
func (h *DeviceHandler) handlePublicLayout(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	displayID := strings.TrimSpace(mux.Vars(r)["displayId"])
	if displayID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "displayId required")
		return
	}
	if !h.configured(w) {
		return
	}

	screen, err := h.identity.Lookup(r.Context(), displayID)
	if err != nil {
		writeDomainError(w, h.logger, "public_layout", err)
		return
	}

	lay, err := h.public.Assemble(r.Context(), screen.ID)
	if err != nil {
		writeDomainError(w, h.logger, "public_layout", err)
		return
	}

	writeJSON(w, http.StatusOK, models.LayoutResponse{
		Layout:                 lay,
		LayoutVersion:          lay.Version,
		RefreshIntervalSeconds: h.device.LayoutRefreshSeconds,
	})
}
