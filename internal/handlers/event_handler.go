package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/pkg/models"
)

// EventHandler executes render requests taken off a queue.
type EventHandler struct {
	slides      *render.SlideGenerator
	screenshots *render.ScreenshotJob
	store       store.Store
	logger      *zap.Logger
}

// NewEventHandler creates an event handler. screenshots may be nil when
// still publishing is not configured.
func NewEventHandler(slides *render.SlideGenerator, screenshots *render.ScreenshotJob, s store.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		slides:      slides,
		screenshots: screenshots,
		store:       s,
		logger:      logger,
	}
}

// Handle processes a render request event
func (h *EventHandler) Handle(ctx context.Context, request *models.RenderRequest) (*models.RenderResult, error) {
	h.logger.Info("Processing render request",
		zap.String("screen_id", request.ScreenID),
		zap.String("mode", request.Mode),
		zap.String("reason", request.Reason),
		zap.String("uuid", request.UUID))

	if request.Type != models.RenderRequestType {
		return nil, fmt.Errorf("invalid request type: %s", request.Type)
	}
	if request.ScreenID == "" {
		return nil, fmt.Errorf("screen_id is required")
	}
	if request.Mode == "" {
		request.Mode = models.RenderModeSlides
	}

	start := time.Now()
	var (
		result *models.RenderResult
		err    error
	)
	switch request.Mode {
	case models.RenderModeSlides:
		result, err = h.generateSlides(ctx, request)
	case models.RenderModeScreenshot:
		result, err = h.captureStill(ctx, request)
	default:
		return nil, fmt.Errorf("unsupported render mode: %s", request.Mode)
	}
	if err != nil {
		h.logger.Error("Render request failed",
			zap.Error(err),
			zap.String("screen_id", request.ScreenID),
			zap.String("mode", request.Mode))
		return models.FailedResult(request, err), err
	}

	h.logger.Info("Render request completed",
		zap.String("screen_id", request.ScreenID),
		zap.String("mode", request.Mode),
		zap.Int("generated", result.Generated),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (h *EventHandler) newResult(request *models.RenderRequest) *models.RenderResult {
	return &models.RenderResult{
		Type:        models.RenderResultType,
		UUID:        request.UUID,
		ScreenID:    request.ScreenID,
		Mode:        request.Mode,
		ProcessedAt: time.Now(),
	}
}

func (h *EventHandler) generateSlides(ctx context.Context, request *models.RenderRequest) (*models.RenderResult, error) {
	if h.slides == nil {
		return nil, fmt.Errorf("%w: slide generation", render.ErrUnavailable)
	}

	res, err := h.slides.Generate(ctx, request.ScreenID)
	if err != nil {
		return nil, err
	}

	result := h.newResult(request)
	result.Version = res.Version
	result.Generated = res.Generated
	result.Deleted = res.Deleted
	result.Errors = res.Errors
	return result, nil
}

func (h *EventHandler) captureStill(ctx context.Context, request *models.RenderRequest) (*models.RenderResult, error) {
	if h.screenshots == nil || h.store == nil {
		return nil, fmt.Errorf("%w: screenshot publishing", render.ErrUnavailable)
	}

	screen, err := h.store.GetScreen(ctx, request.ScreenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load screen %s: %w", request.ScreenID, err)
	}
	slug := screen.DisplaySlug()
	if slug == "" {
		return nil, render.ErrNoSlug
	}

	report := h.screenshots.Run(ctx, []string{slug})
	result := h.newResult(request)
	for _, item := range report.Items {
		if item.Status != render.StatusSuccess {
			result.Errors = append(result.Errors, item.Reason)
			continue
		}
		result.Generated += len(item.Artifacts)
	}
	return result, nil
}
