package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/identity"
	"github.com/koios/signage-sync/internal/middleware"
	"github.com/koios/signage-sync/internal/ratelimit"
)

// Rate limit scopes
const (
	ScopeDevice   = "device"
	ScopePublic   = "public"
	ScopeRegister = "register"
	ScopeRender   = "render"
)

// deviceKey counts device requests per credential, falling back to the
// client address for requests without one.
func deviceKey(r *http.Request) string {
	if token, err := identity.FromRequest(r); err == nil {
		return token
	}
	return middleware.ClientIP(r)
}

func displayKey(r *http.Request) string {
	return mux.Vars(r)["displayId"]
}

// NewRouter wires every HTTP endpoint. limiter may be nil.
func NewRouter(device *DeviceHandler, renderer *RenderHandler, limiter ratelimit.Limiter, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	r.Use(middleware.Logging(logger))

	perDevice := middleware.RateLimit(limiter, ScopeDevice, deviceKey, logger)
	perDisplay := middleware.RateLimit(limiter, ScopePublic, displayKey, logger)
	perClient := middleware.RateLimit(limiter, ScopeRegister, middleware.ClientIP, logger)
	perRender := middleware.RateLimit(limiter, ScopeRender, displayKey, logger)

	r.Handle("/device/register", perClient(http.HandlerFunc(device.handleRegister))).Methods(http.MethodPost)
	r.Handle("/device/layout", perDevice(http.HandlerFunc(device.handleLayout))).Methods(http.MethodGet)
	r.Handle("/device/version", perDevice(http.HandlerFunc(device.handleVersion))).Methods(http.MethodGet)
	r.Handle("/device/heartbeat", perDevice(http.HandlerFunc(device.handleHeartbeat))).Methods(http.MethodPost)
	r.Handle("/layout/{displayId}", perDisplay(http.HandlerFunc(device.handlePublicLayout))).Methods(http.MethodGet)
	r.Handle("/render/{displayId}", perRender(http.HandlerFunc(renderer.handleRender))).Methods(http.MethodGet)

	r.HandleFunc("/health", device.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleHealth handles GET /health - returns service health status
func (h *DeviceHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "signage-sync",
		"store":   h.store != nil,
		"storage": h.storage.Configured(),
		"queue":   h.queue != nil,
	})
}
