package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/koios/signage-sync/pkg/models"
)

var (
	// ErrNotFound is returned when no screen matches a lookup.
	ErrNotFound = errors.New("not found")
	// ErrNotConfigured is returned when no store backend is available.
	ErrNotConfigured = errors.New("store not configured")
	// ErrStale is returned when a screen changed after the revision a write
	// was based on.
	ErrStale = errors.New("screen changed since it was read")
)

// Field names a screen column usable as a lookup key.
type Field string

const (
	FieldID            Field = "id"
	FieldPublicSlug    Field = "public_slug"
	FieldPublicToken   Field = "public_token"
	FieldBroadcastCode Field = "broadcast_code"
	// FieldBroadcastNumber matches the numeric value of the broadcast code,
	// so "0042" and "42" address the same screen.
	FieldBroadcastNumber Field = "broadcast_code_number"
)

// Store is the read surface over screens and their rotations. The only write
// it exposes is recording a published snapshot version.
type Store interface {
	// ListActiveRotations returns the screen's active entries ordered by
	// display_order, ties kept in insertion order. An empty slice is a valid
	// result and is distinct from an error.
	ListActiveRotations(ctx context.Context, screenID string) ([]models.RotationEntry, error)
	// GetScreen loads a screen by id regardless of its active flag.
	GetScreen(ctx context.Context, id string) (*models.Screen, error)
	// FindScreen returns the first screen whose field equals value.
	FindScreen(ctx context.Context, field Field, value string, activeOnly bool) (*models.Screen, error)
	// SetSnapshotVersion records the version token of a completed render,
	// but only while the screen and its active rotations still match rev.
	// Otherwise it returns ErrStale and leaves the screen untouched.
	SetSnapshotVersion(ctx context.Context, screenID, version string, rev Revision) error
	Close() error
}

// Writer is implemented by stores that accept admin-side edits. Every write
// bumps updated_at and clears the snapshot version so the next resolved
// version differs from the previous one.
type Writer interface {
	UpsertScreen(ctx context.Context, screen models.Screen) error
	UpsertRotation(ctx context.Context, entry models.RotationEntry) error
	DeleteRotation(ctx context.Context, screenID, rotationID string) error
}

// BroadcastNumber parses an all-digit code into its integer form.
func BroadcastNumber(code string) (int64, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(code, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func sortRotations(entries []models.RotationEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DisplayOrder < entries[j].DisplayOrder
	})
}

// Revision identifies the state of a screen a render was taken from: the
// screen's own stamp plus the id and stamp of every active rotation in
// display order. Adding, removing, reordering or editing a rotation changes
// it even when the screen row itself is untouched.
type Revision struct {
	ScreenUpdatedAt time.Time
	Rotations       string
}

// RevisionOf computes the revision of already loaded rows.
func RevisionOf(screen *models.Screen, rotations []models.RotationEntry) Revision {
	var b strings.Builder
	for _, r := range rotations {
		b.WriteString(r.ID)
		b.WriteByte('@')
		b.WriteString(r.UpdatedAt.UTC().Format(time.RFC3339Nano))
		b.WriteByte(';')
	}
	return Revision{ScreenUpdatedAt: screen.UpdatedAt.UTC(), Rotations: b.String()}
}

// Matches reports whether two revisions describe the same state.
func (r Revision) Matches(other Revision) bool {
	return r.ScreenUpdatedAt.Equal(other.ScreenUpdatedAt) && r.Rotations == other.Rotations
}

// CurrentRevision reads the revision a render of screenID would start from.
func CurrentRevision(ctx context.Context, s Store, screenID string) (Revision, error) {
	screen, err := s.GetScreen(ctx, screenID)
	if err != nil {
		return Revision{}, err
	}
	rotations, err := s.ListActiveRotations(ctx, screen.ID)
	if err != nil {
		return Revision{}, err
	}
	return RevisionOf(screen, rotations), nil
}
