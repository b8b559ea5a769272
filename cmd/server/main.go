package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/amqp"
	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/handlers"
	"github.com/koios/signage-sync/internal/layout"
	"github.com/koios/signage-sync/internal/ratelimit"
	"github.com/koios/signage-sync/internal/redis"
	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/internal/storage"
	"github.com/koios/signage-sync/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, logger)
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		logger.Warn("No rotation store configured; device endpoints will answer 503")
		st = nil
	case err != nil:
		logger.Fatal("Failed to open rotation store", zap.Error(err))
	default:
		defer st.Close()
	}

	device := handlers.NewDeviceHandler(st, cfg.Storage, cfg.Device, logger)

	if !cfg.Storage.Configured() {
		logger.Warn("SLIDE_IMAGE_BASE_URL not set; layouts will carry text slides only")
	} else if artifacts, err := storage.New(ctx, cfg.Storage, logger); err != nil {
		logger.Warn("Artifact store unavailable; snapshot versions are trusted without checking images", zap.Error(err))
	} else {
		device.WithPublishedSlides(layout.NewPublishedIndex(artifacts))
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit)

	switch {
	case cfg.Redis.Configured():
		rc, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable; using in-process rate limiting and no render queue", zap.Error(err))
			break
		}
		defer rc.Close()
		device.WithQueue(rc)
		limiter = ratelimit.NewRedisLimiterFromClient(rc.Raw(), cfg.RateLimit)
	case cfg.AMQP.Configured():
		conn, err := amqp.NewConnection(cfg.AMQP, logger)
		if err != nil {
			logger.Warn("AMQP unavailable; render requests will not be queued", zap.Error(err))
			break
		}
		defer conn.Close()
		device.WithQueue(conn)
	}

	// On-demand captures share one browser behind a bounded pool
	var capturer handlers.Capturer
	browser, err := render.NewChromeBrowser(cfg.Render, 0, logger)
	if err != nil {
		logger.Warn("Headless browser unavailable; /render will answer 503", zap.Error(err))
	} else {
		defer browser.Close()
		pool := render.NewWorkerPool(browser, cfg.Render, logger)
		pool.Start()
		defer pool.Stop()
		capturer = pool
	}

	router := handlers.NewRouter(device, handlers.NewRenderHandler(capturer, logger), limiter, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("storage_backend", cfg.Storage.Backend))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
}
