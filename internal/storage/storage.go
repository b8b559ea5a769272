package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
)

// ErrNotConfigured is returned when no artifact store can be built.
var ErrNotConfigured = errors.New("artifact store not configured")

// ArtifactStore is the addressable store devices fetch rendered slides from.
// Keys are slash separated, e.g. slides/{screenId}/{version}/slide_0.jpg.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefixExcept removes every .jpg object under prefix whose key is
	// not in keep and returns how many were removed.
	DeletePrefixExcept(ctx context.Context, prefix string, keep map[string]bool) (int, error)
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ArtifactStore, error) {
	switch cfg.Backend {
	case config.StorageS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("%w: S3_BUCKET is required", ErrNotConfigured)
		}
		return NewS3Store(ctx, cfg, logger)
	case config.StorageFilesystem, "":
		if cfg.OutputDir == "" {
			return nil, fmt.Errorf("%w: SLIDES_OUTPUT_DIR is required", ErrNotConfigured)
		}
		return NewFileSystemStore(cfg.OutputDir)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func isSlideImage(key string) bool {
	return len(key) > 4 && key[len(key)-4:] == ".jpg"
}
