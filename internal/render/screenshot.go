package render

import (
	"context"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/metrics"
	"github.com/koios/signage-sync/internal/storage"
)

// ScreenshotJob captures one still per display slug and publishes it as
// {slug}.jpg.
type ScreenshotJob struct {
	browser Browser
	store   storage.ArtifactStore
	cfg     config.RenderConfig
	logger  *zap.Logger
}

// NewScreenshotJob creates a screenshot job.
func NewScreenshotJob(b Browser, store storage.ArtifactStore, cfg config.RenderConfig, logger *zap.Logger) *ScreenshotJob {
	return &ScreenshotJob{browser: b, store: store, cfg: cfg, logger: logger}
}

// Run captures every slug in batches of the configured concurrency.
func (j *ScreenshotJob) Run(ctx context.Context, slugs []string) *BatchReport {
	return RunBatches(ctx, "screenshot", slugs, j.cfg.Concurrency, j.captureOne, j.logger)
}

func (j *ScreenshotJob) captureOne(ctx context.Context, slug string) ([]string, error) {
	url := DisplayURL(j.cfg.DisplayBaseURL, slug, -1)
	data, err := Still(ctx, j.browser, url, j.cfg.Width, j.cfg.Height, j.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	key := slug + ".jpg"
	if err := j.store.Put(ctx, key, data, "image/jpeg"); err != nil {
		return nil, err
	}
	metrics.ArtifactsPublished.WithLabelValues("still").Inc()
	return []string{key}, nil
}
