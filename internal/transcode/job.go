package transcode

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/identity"
	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/pkg/models"
)

// VideoJob records each display page and publishes it as an HLS stream under
// {OutputDir}/{slug}.
type VideoJob struct {
	browser  render.Browser
	pipeline *Pipeline
	renderer config.RenderConfig
	video    config.VideoConfig
	store    store.Store
	resolver *identity.Resolver
	logger   *zap.Logger
}

// NewVideoJob creates a video job.
func NewVideoJob(b render.Browser, p *Pipeline, renderCfg config.RenderConfig, videoCfg config.VideoConfig, logger *zap.Logger) *VideoJob {
	return &VideoJob{browser: b, pipeline: p, renderer: renderCfg, video: videoCfg, logger: logger}
}

// WithStore enables recording lengths derived from each screen's rotation
// cycle.
func (j *VideoJob) WithStore(s store.Store) *VideoJob {
	j.store = s
	j.resolver = identity.NewResolver(s, j.logger)
	return j
}

// Run records every target in batches of the configured concurrency.
func (j *VideoJob) Run(ctx context.Context, targets []models.FleetTarget) *render.BatchReport {
	base := make(map[string]int, len(targets))
	for _, t := range targets {
		base[t.Slug] = t.RecordSeconds
	}
	task := func(ctx context.Context, slug string) ([]string, error) {
		return j.recordOne(ctx, slug, base[slug])
	}
	return render.RunBatches(ctx, "video", models.Slugs(targets), j.video.Concurrency, task, j.logger)
}

func (j *VideoJob) recordOne(ctx context.Context, slug string, override int) ([]string, error) {
	seconds := j.RecordSeconds(ctx, slug, override)

	work, err := j.pipeline.TempDir(slug)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	url := render.DisplayURL(j.renderer.DisplayBaseURL, slug, -1)
	rec, err := render.Record(ctx, j.browser, url, time.Duration(seconds)*time.Second, work,
		render.RecordOptionsFrom(j.video), j.logger)
	if err != nil {
		return nil, err
	}

	j.logger.Info("Recording captured",
		zap.String("slug", slug),
		zap.String("method", rec.Method),
		zap.Int("frames", rec.Frames),
		zap.Int("seconds", seconds))

	res, err := j.pipeline.Process(ctx, slug, rec.ConcatPath, seconds, filepath.Join(j.video.OutputDir, slug))
	if err != nil {
		return nil, err
	}

	artifacts := make([]string, len(res.Files))
	for i, f := range res.Files {
		artifacts[i] = filepath.ToSlash(filepath.Join("stream", slug, f))
	}
	return artifacts, nil
}

// RecordSeconds picks the recording length for slug: the configured (or
// per-target) base stretched to the screen's rotation cycle when a store is
// available.
func (j *VideoJob) RecordSeconds(ctx context.Context, slug string, override int) int {
	base := j.video.RecordSeconds
	if override > 0 {
		base = override
	}
	if j.resolver == nil {
		return base
	}

	rotations, err := j.rotations(ctx, slug)
	if err != nil {
		j.logger.Warn("Cycle duration unavailable, using default",
			zap.String("slug", slug),
			zap.Int("seconds", base),
			zap.Error(err))
		return base
	}

	sec := CycleSeconds(rotations, base, j.video.MinCycleSeconds, j.video.MaxCycleSeconds)
	j.logger.Info("Cycle duration resolved",
		zap.String("slug", slug),
		zap.Int("rotations", len(rotations)),
		zap.Int("seconds", sec))
	return sec
}

func (j *VideoJob) rotations(ctx context.Context, slug string) ([]models.RotationEntry, error) {
	screen, err := j.resolver.Lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	return j.store.ListActiveRotations(ctx, screen.ID)
}
