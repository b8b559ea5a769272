package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/amqp"
	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/handlers"
	"github.com/koios/signage-sync/internal/layout"
	"github.com/koios/signage-sync/internal/redis"
	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/internal/storage"
	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/internal/transcode"
	"github.com/koios/signage-sync/pkg/models"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture one still per screen into OUTPUT_DIR/{slug}.jpg",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
			cfg.Render.Concurrency = v
		}
		if v, _ := cmd.Flags().GetString("output"); v != "" {
			cfg.Render.OutputDir = v
		}
		if err := config.RequireDir("OUTPUT_DIR", cfg.Render.OutputDir); err != nil {
			return err
		}

		targets, err := applyFleetFlags(cmd, cfg)
		if err != nil {
			return err
		}

		artifacts, err := storage.NewFileSystemStore(cfg.Render.OutputDir)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		browser, err := newBrowser(cfg.Render, 0, logger)
		if err != nil {
			return err
		}
		defer browser.Close()

		report := render.NewScreenshotJob(browser, artifacts, cfg.Render, logger).Run(ctx, models.Slugs(targets))
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Record each screen and publish it as HLS under STREAM_OUTPUT_DIR/{slug}",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
			cfg.Video.Concurrency = v
		}
		if v, _ := cmd.Flags().GetString("output"); v != "" {
			cfg.Video.OutputDir = v
		}
		if v, _ := cmd.Flags().GetInt("seconds"); v > 0 {
			cfg.Video.RecordSeconds = v
		}
		if err := config.RequireDir("STREAM_OUTPUT_DIR", cfg.Video.OutputDir); err != nil {
			return err
		}

		targets, err := applyFleetFlags(cmd, cfg)
		if err != nil {
			return err
		}

		pipeline, err := transcode.NewPipeline(transcode.ExecRunner{}, cfg.Video, logger)
		if err != nil {
			return err
		}
		if err := pipeline.CheckTools(); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		st, err := store.Open(ctx, cfg.Store, logger)
		switch {
		case errors.Is(err, store.ErrNotConfigured):
			st = nil
		case err != nil:
			logger.Warn("Rotation store unavailable; using base recording lengths", zap.Error(err))
			st = nil
		default:
			defer st.Close()
		}

		browser, err := newBrowser(cfg.Render, time.Duration(cfg.Video.NavTimeout)*time.Second, logger)
		if err != nil {
			return err
		}
		defer browser.Close()

		job := transcode.NewVideoJob(browser, pipeline, cfg.Render, cfg.Video, logger)
		if st != nil {
			job.WithStore(st)
		}

		printReport(cmd.OutOrStdout(), job.Run(ctx, targets))
		return nil
	},
}

var slidesCmd = &cobra.Command{
	Use:   "slides <screenId>...",
	Short: "Render and publish the versioned slide set of each screen",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		st, artifacts, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		browser, err := newBrowser(cfg.Render, 0, logger)
		if err != nil {
			return err
		}
		defer browser.Close()

		gen := render.NewSlideGenerator(browser, st, artifacts, cfg.Render, logger)
		task := func(ctx context.Context, screenID string) ([]string, error) {
			res, err := gen.Generate(ctx, screenID)
			if err != nil {
				return nil, err
			}
			if res.Version == "" {
				return nil, errors.New(strings.Join(res.Errors, "; "))
			}
			return []string{fmt.Sprintf("%s%s/ (%d slides, %d deleted)",
				layout.SlidePrefix(screenID), res.Version, res.Generated, res.Deleted)}, nil
		}

		printReport(cmd.OutOrStdout(), render.RunBatches(ctx, "slides", args, cfg.Render.Concurrency, task, logger))
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Consume render requests from Redis or AMQP until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		transport, _ := cmd.Flags().GetString("transport")
		if transport == "" {
			switch {
			case cfg.Redis.Configured():
				transport = "redis"
			case cfg.AMQP.Configured():
				transport = "amqp"
			default:
				return fmt.Errorf("%w: listen requires REDIS_ADDR or AMQP_URL", config.ErrInvalid)
			}
		}

		ctx, stop := signalContext()
		defer stop()

		st, artifacts, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		browser, err := newBrowser(cfg.Render, 0, logger)
		if err != nil {
			return err
		}
		defer browser.Close()

		handler := handlers.NewEventHandler(
			render.NewSlideGenerator(browser, st, artifacts, cfg.Render, logger),
			render.NewScreenshotJob(browser, artifacts, cfg.Render, logger),
			st, logger)

		switch transport {
		case "redis":
			return listenRedis(ctx, cfg, handler)
		case "amqp":
			return listenAMQP(ctx, cfg, handler)
		default:
			return fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, transport)
		}
	},
}

// Replaced in tests.
var (
	newBrowser   = chromeBrowser
	openBackends = openStoreAndArtifacts
)

func chromeBrowser(cfg config.RenderConfig, navTimeout time.Duration, logger *zap.Logger) (render.Browser, error) {
	b, err := render.NewChromeBrowser(cfg, navTimeout, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// openStoreAndArtifacts opens the rotation store and artifact store that
// slide generation needs. Both are required.
func openStoreAndArtifacts(ctx context.Context, cfg *config.Config) (store.Store, storage.ArtifactStore, error) {
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			return nil, nil, fmt.Errorf("%w: STORE_DRIVER is required", config.ErrInvalid)
		}
		return nil, nil, err
	}

	artifacts, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		st.Close()
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		return nil, nil, err
	}
	return st, artifacts, nil
}

func listenRedis(ctx context.Context, cfg *config.Config, handler *handlers.EventHandler) error {
	client, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info("Listening for render requests",
		zap.String("transport", "redis"),
		zap.String("stream", redis.StreamKey))
	return redis.NewConsumer(client, handler, logger).Run(ctx)
}

func listenAMQP(ctx context.Context, cfg *config.Config, handler *handlers.EventHandler) error {
	conn, err := amqp.NewConnection(cfg.AMQP, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("Listening for render requests",
		zap.String("transport", "amqp"),
		zap.String("queue", cfg.AMQP.QueueName))

	err = amqp.NewConsumer(conn, handler, logger).Start(ctx, cfg.AMQP.QueueName)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
