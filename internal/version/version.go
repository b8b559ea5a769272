package version

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/pkg/models"
)

// Format is the layout of timestamp-derived version tokens.
const Format = time.RFC3339Nano

// Resolver computes the cache-busting version token for a screen.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the screen's published snapshot version when one is set,
// otherwise the latest updated_at across the screen and its active rotations.
func (r *Resolver) Resolve(ctx context.Context, screenID string) (string, error) {
	screen, err := r.store.GetScreen(ctx, screenID)
	if err != nil {
		return "", fmt.Errorf("failed to load screen %s: %w", screenID, err)
	}
	if screen.LayoutSnapshotVersion != "" {
		return screen.LayoutSnapshotVersion, nil
	}

	rotations, err := r.store.ListActiveRotations(ctx, screenID)
	if err != nil {
		return "", fmt.Errorf("failed to list rotations for %s: %w", screenID, err)
	}
	return FromTimestamps(screen, rotations), nil
}

// Of computes the token from already loaded rows and reports whether it is
// an explicitly published snapshot.
func Of(screen *models.Screen, rotations []models.RotationEntry) (string, bool) {
	if screen.LayoutSnapshotVersion != "" {
		return screen.LayoutSnapshotVersion, true
	}
	return FromTimestamps(screen, rotations), false
}

// FromTimestamps derives the fallback token from already loaded rows.
func FromTimestamps(screen *models.Screen, rotations []models.RotationEntry) string {
	latest := screen.UpdatedAt
	for _, r := range rotations {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest.UTC().Format(Format)
}
