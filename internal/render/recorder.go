package render

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/metrics"
)

// RecordOptions bounds the recording strategy.
type RecordOptions struct {
	// MaxScreencast is the longest recording attempted with the screencast
	// stream; longer ones are sampled.
	MaxScreencast time.Duration
	SampleFPS     int
}

// RecordOptionsFrom derives options from the video configuration.
func RecordOptionsFrom(cfg config.VideoConfig) RecordOptions {
	return RecordOptions{
		MaxScreencast: time.Duration(cfg.MaxScreencast) * time.Second,
		SampleFPS:     cfg.SampleFPS,
	}
}

// Record captures url for d into dir. The screencast stream is preferred and
// frame sampling is the fallback when it fails or d is too long for it. A
// page that does not load is not retried.
func Record(ctx context.Context, b Browser, url string, d time.Duration, dir string, opts RecordOptions, logger *zap.Logger) (*Recording, error) {
	if d <= opts.MaxScreencast {
		rec, err := timed(MethodScreencast, func() (*Recording, error) {
			return b.Screencast(ctx, url, d, filepath.Join(dir, MethodScreencast))
		})
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrNavigation) || ctx.Err() != nil {
			return nil, err
		}
		logger.Warn("Screencast unavailable, falling back to frame sampling",
			zap.String("url", url),
			zap.Error(err))
	} else {
		logger.Info("Recording exceeds screencast limit, using frame sampling",
			zap.String("url", url),
			zap.Duration("duration", d),
			zap.Duration("limit", opts.MaxScreencast))
	}

	return timed(MethodSampled, func() (*Recording, error) {
		return b.Sample(ctx, url, d, opts.SampleFPS, filepath.Join(dir, MethodSampled))
	})
}

func timed(mode string, fn func() (*Recording, error)) (*Recording, error) {
	start := time.Now()
	rec, err := fn()
	metrics.CaptureDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CapturesTotal.WithLabelValues(mode, "error").Inc()
		return nil, err
	}
	metrics.CapturesTotal.WithLabelValues(mode, "success").Inc()
	return rec, nil
}
