package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
)

// Open returns the backend selected by cfg. An empty driver yields
// ErrNotConfigured so callers can answer 503 instead of serving empty data.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, ErrNotConfigured
	case config.StoreDriverPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, logger)
	case config.StoreDriverSQLite:
		return OpenSQLite(cfg.DatabaseURL, logger)
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
