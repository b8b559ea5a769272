package render

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/layout"
	"github.com/koios/signage-sync/internal/metrics"
	"github.com/koios/signage-sync/internal/storage"
	"github.com/koios/signage-sync/internal/store"
)

var (
	// ErrNoSlug means the screen has no public address to render.
	ErrNoSlug = errors.New("screen has no public slug")
	// ErrNoRotations means there is nothing to render.
	ErrNoRotations = errors.New("screen has no active rotations")
)

// SlideResult summarises one slide generation run.
type SlideResult struct {
	Version   string
	Generated int
	Deleted   int
	Errors    []string
}

// SlideGenerator captures every active rotation of a screen and publishes the
// set under a content-derived version.
type SlideGenerator struct {
	browser   Browser
	store     store.Store
	artifacts storage.ArtifactStore
	cfg       config.RenderConfig
	logger    *zap.Logger
}

// NewSlideGenerator creates a slide generator.
func NewSlideGenerator(b Browser, s store.Store, artifacts storage.ArtifactStore, cfg config.RenderConfig, logger *zap.Logger) *SlideGenerator {
	return &SlideGenerator{browser: b, store: s, artifacts: artifacts, cfg: cfg, logger: logger}
}

// staleAttempts bounds how often a render restarts because the screen was
// edited while it was being captured.
const staleAttempts = 3

// Generate renders the slides of screenID. Nothing is published unless every
// slide was captured. The snapshot version is recorded only if the screen
// still matches the rotations that were captured, and old slides are removed
// only after that. An edit during capture restarts the render.
func (g *SlideGenerator) Generate(ctx context.Context, screenID string) (*SlideResult, error) {
	if g.artifacts == nil {
		return nil, storage.ErrNotConfigured
	}

	for attempt := 1; ; attempt++ {
		res, err := g.generate(ctx, screenID)
		if !errors.Is(err, store.ErrStale) {
			return res, err
		}
		if attempt == staleAttempts {
			return nil, fmt.Errorf("screen %s kept changing during capture: %w", screenID, err)
		}
		g.logger.Info("Screen changed during capture, rendering again",
			zap.String("screen_id", screenID),
			zap.Int("attempt", attempt))
	}
}

func (g *SlideGenerator) generate(ctx context.Context, screenID string) (*SlideResult, error) {
	screen, err := g.store.GetScreen(ctx, screenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load screen %s: %w", screenID, err)
	}
	slug := screen.DisplaySlug()
	if slug == "" {
		return nil, ErrNoSlug
	}

	rotations, err := g.store.ListActiveRotations(ctx, screen.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotations for %s: %w", screen.ID, err)
	}
	if len(rotations) == 0 {
		return nil, ErrNoRotations
	}
	rev := store.RevisionOf(screen, rotations)

	g.logger.Info("Generating slides",
		zap.String("screen_id", screen.ID),
		zap.String("slug", slug),
		zap.Int("rotations", len(rotations)))

	result := &SlideResult{}
	images := make([][]byte, len(rotations))
	for i := range rotations {
		url := DisplayURL(g.cfg.DisplayBaseURL, slug, i)
		data, err := Still(ctx, g.browser, url, g.cfg.Width, g.cfg.Height, g.cfg.JPEGQuality)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("slide %d: %v", i, err))
			continue
		}
		images[i] = data
	}
	if len(result.Errors) > 0 {
		g.logger.Warn("Slide capture incomplete, nothing published",
			zap.String("screen_id", screen.ID),
			zap.Strings("errors", result.Errors))
		return result, nil
	}

	result.Version = ContentVersion(images)
	keep := make(map[string]bool, len(images))
	for i, data := range images {
		key := layout.VersionedSlideKey(screen.ID, result.Version, i)
		if err := g.artifacts.Put(ctx, key, data, "image/jpeg"); err != nil {
			return nil, fmt.Errorf("failed to upload slide %d: %w", i, err)
		}
		keep[key] = true
		result.Generated++
		metrics.ArtifactsPublished.WithLabelValues("slide").Inc()
	}

	if err := g.store.SetSnapshotVersion(ctx, screen.ID, result.Version, rev); err != nil {
		if errors.Is(err, store.ErrStale) {
			// The uploaded set stays until the next successful run removes it.
			return nil, err
		}
		return nil, fmt.Errorf("failed to record snapshot version: %w", err)
	}

	deleted, err := g.artifacts.DeletePrefixExcept(ctx, layout.SlidePrefix(screen.ID), keep)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cleanup: %v", err))
		g.logger.Warn("Stale slide cleanup failed", zap.String("screen_id", screen.ID), zap.Error(err))
	}
	result.Deleted = deleted
	metrics.ArtifactsDeleted.WithLabelValues("slide").Add(float64(deleted))

	g.logger.Info("Slides published",
		zap.String("screen_id", screen.ID),
		zap.String("version", result.Version),
		zap.Int("generated", result.Generated),
		zap.Int("deleted", result.Deleted))

	return result, nil
}

// ContentVersion hashes the ordered slide images into a version token.
func ContentVersion(images [][]byte) string {
	h := xxhash.New()
	for _, img := range images {
		h.WriteString(strconv.Itoa(len(img)))
		h.Write(img)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
