package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/pkg/models"
)

type writableStore interface {
	Store
	Writer
}

func backends(t *testing.T) map[string]func(t *testing.T) writableStore {
	return map[string]func(t *testing.T) writableStore{
		"memory": func(t *testing.T) writableStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) writableStore {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"), zap.NewNop())
			if err != nil {
				t.Fatalf("Failed to open sqlite store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func seed(t *testing.T, s writableStore) {
	t.Helper()
	ctx := context.Background()

	screens := []models.Screen{
		{ID: "s1", PublicSlug: "lobby", PublicToken: "tok-1", BroadcastCode: "0042", IsActive: true},
		{ID: "s2", PublicSlug: "42", BroadcastCode: "777", IsActive: true},
		{ID: "s3", PublicSlug: "dark", BroadcastCode: "900", IsActive: false},
	}
	for _, sc := range screens {
		if err := s.UpsertScreen(ctx, sc); err != nil {
			t.Fatalf("UpsertScreen(%s): %v", sc.ID, err)
		}
	}

	rotations := []models.RotationEntry{
		{ID: "r-c", ScreenID: "s1", TemplateID: "t3", DisplayOrder: 2, IsActive: true},
		{ID: "r-a", ScreenID: "s1", TemplateID: "t1", DisplayOrder: 1, IsActive: true, DisplayDuration: models.NewLooseInt(12)},
		{ID: "r-b", ScreenID: "s1", TemplateID: "t2", DisplayOrder: 1, IsActive: true},
		{ID: "r-off", ScreenID: "s1", TemplateID: "t4", DisplayOrder: 0, IsActive: false},
	}
	for _, r := range rotations {
		if err := s.UpsertRotation(ctx, r); err != nil {
			t.Fatalf("UpsertRotation(%s): %v", r.ID, err)
		}
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seed(t, s)

			t.Run("active rotations ordered with stable ties", func(t *testing.T) {
				entries, err := s.ListActiveRotations(ctx, "s1")
				if err != nil {
					t.Fatalf("ListActiveRotations: %v", err)
				}
				var ids []string
				for _, e := range entries {
					ids = append(ids, e.ID)
				}
				want := []string{"r-a", "r-b", "r-c"}
				if len(ids) != len(want) {
					t.Fatalf("got %v, want %v", ids, want)
				}
				for i := range want {
					if ids[i] != want[i] {
						t.Fatalf("got %v, want %v", ids, want)
					}
				}
				if got := entries[0].DisplayDuration.Or(0); got != 12 {
					t.Errorf("display_duration = %d, want 12", got)
				}
				if entries[1].DisplayDuration.Valid {
					t.Errorf("expected unset display_duration, got %d", entries[1].DisplayDuration.N)
				}
			})

			t.Run("empty rotations is not an error", func(t *testing.T) {
				entries, err := s.ListActiveRotations(ctx, "s2")
				if err != nil {
					t.Fatalf("ListActiveRotations: %v", err)
				}
				if entries == nil || len(entries) != 0 {
					t.Errorf("expected empty non-nil slice, got %#v", entries)
				}
			})

			t.Run("find by field", func(t *testing.T) {
				tests := []struct {
					field  Field
					value  string
					active bool
					want   string
				}{
					{FieldPublicSlug, "lobby", true, "s1"},
					{FieldPublicToken, "tok-1", true, "s1"},
					{FieldBroadcastCode, "0042", true, "s1"},
					{FieldBroadcastNumber, "42", true, "s1"},
					{FieldBroadcastNumber, "00042", true, "s1"},
					{FieldID, "s2", true, "s2"},
					{FieldPublicSlug, "dark", false, "s3"},
				}
				for _, tt := range tests {
					got, err := s.FindScreen(ctx, tt.field, tt.value, tt.active)
					if err != nil {
						t.Errorf("FindScreen(%s, %q): %v", tt.field, tt.value, err)
						continue
					}
					if got.ID != tt.want {
						t.Errorf("FindScreen(%s, %q) = %s, want %s", tt.field, tt.value, got.ID, tt.want)
					}
				}
			})

			t.Run("inactive and unknown screens are not found", func(t *testing.T) {
				if _, err := s.FindScreen(ctx, FieldPublicSlug, "dark", true); !errors.Is(err, ErrNotFound) {
					t.Errorf("inactive screen: got %v, want ErrNotFound", err)
				}
				if _, err := s.FindScreen(ctx, FieldBroadcastNumber, "abc", true); !errors.Is(err, ErrNotFound) {
					t.Errorf("non-numeric code: got %v, want ErrNotFound", err)
				}
				if _, err := s.GetScreen(ctx, "missing"); !errors.Is(err, ErrNotFound) {
					t.Errorf("missing screen: got %v, want ErrNotFound", err)
				}
			})

			t.Run("snapshot version cleared by writes", func(t *testing.T) {
				rev, err := CurrentRevision(ctx, s, "s1")
				if err != nil {
					t.Fatalf("CurrentRevision: %v", err)
				}
				if err := s.SetSnapshotVersion(ctx, "s1", "v-abc", rev); err != nil {
					t.Fatalf("SetSnapshotVersion: %v", err)
				}
				sc, err := s.GetScreen(ctx, "s1")
				if err != nil {
					t.Fatalf("GetScreen: %v", err)
				}
				if sc.LayoutSnapshotVersion != "v-abc" {
					t.Fatalf("snapshot = %q, want v-abc", sc.LayoutSnapshotVersion)
				}
				before := sc.UpdatedAt

				if err := s.DeleteRotation(ctx, "s1", "r-c"); err != nil {
					t.Fatalf("DeleteRotation: %v", err)
				}
				sc, err = s.GetScreen(ctx, "s1")
				if err != nil {
					t.Fatalf("GetScreen: %v", err)
				}
				if sc.LayoutSnapshotVersion != "" {
					t.Errorf("snapshot = %q after write, want cleared", sc.LayoutSnapshotVersion)
				}
				if !sc.UpdatedAt.After(before) {
					t.Errorf("updated_at %v not after %v", sc.UpdatedAt, before)
				}
			})

			t.Run("set snapshot on missing screen", func(t *testing.T) {
				if err := s.SetSnapshotVersion(ctx, "missing", "v", Revision{}); !errors.Is(err, ErrNotFound) {
					t.Errorf("got %v, want ErrNotFound", err)
				}
			})

			t.Run("snapshot refused after an edit", func(t *testing.T) {
				rev, err := CurrentRevision(ctx, s, "s1")
				if err != nil {
					t.Fatalf("CurrentRevision: %v", err)
				}
				if err := s.UpsertRotation(ctx, models.RotationEntry{ID: "r-late", ScreenID: "s1", DisplayOrder: 9, IsActive: true}); err != nil {
					t.Fatalf("UpsertRotation: %v", err)
				}

				if err := s.SetSnapshotVersion(ctx, "s1", "v-old", rev); !errors.Is(err, ErrStale) {
					t.Fatalf("got %v, want ErrStale", err)
				}
				sc, err := s.GetScreen(ctx, "s1")
				if err != nil {
					t.Fatalf("GetScreen: %v", err)
				}
				if sc.LayoutSnapshotVersion != "" {
					t.Errorf("snapshot = %q, want untouched", sc.LayoutSnapshotVersion)
				}
			})
		})
	}
}

func TestMemoryStoreStampsAreStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return frozen })
	ctx := context.Background()

	if err := s.UpsertScreen(ctx, models.Screen{ID: "s1", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	first, _ := s.GetScreen(ctx, "s1")

	if err := s.UpsertRotation(ctx, models.RotationEntry{ID: "r1", ScreenID: "s1", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	second, _ := s.GetScreen(ctx, "s1")

	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("second stamp %v not after first %v with a frozen clock", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestBroadcastNumber(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{"0042", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"4a2", 0, false},
		{"-3", 0, false},
	}
	for _, tt := range tests {
		got, ok := BroadcastNumber(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BroadcastNumber(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOpenNotConfigured(t *testing.T) {
	if _, err := Open(context.Background(), configStore(""), zap.NewNop()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}

func TestRevisionOf(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	screen := &models.Screen{ID: "s1", UpdatedAt: t0}
	rotations := []models.RotationEntry{
		{ID: "a", UpdatedAt: t0.Add(time.Second)},
		{ID: "b", UpdatedAt: t0.Add(2 * time.Second)},
	}
	base := RevisionOf(screen, rotations)

	// Same instant in another zone is the same revision.
	if !base.Matches(RevisionOf(&models.Screen{UpdatedAt: t0.In(time.FixedZone("x", 3600))}, rotations)) {
		t.Error("zone change altered the revision")
	}

	tests := []struct {
		name      string
		screen    *models.Screen
		rotations []models.RotationEntry
	}{
		{"screen edited", &models.Screen{UpdatedAt: t0.Add(time.Minute)}, rotations},
		{"rotation removed", screen, rotations[:1]},
		{"rotation added", screen, append(append([]models.RotationEntry{}, rotations...), models.RotationEntry{ID: "c", UpdatedAt: t0})},
		{"reordered", screen, []models.RotationEntry{rotations[1], rotations[0]}},
		{"rotation edited", screen, []models.RotationEntry{rotations[0], {ID: "b", UpdatedAt: t0.Add(time.Hour)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if base.Matches(RevisionOf(tt.screen, tt.rotations)) {
				t.Error("revision did not change")
			}
		})
	}
}
