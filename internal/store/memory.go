package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koios/signage-sync/pkg/models"
)

// MemoryStore keeps screens and rotations in process. It backs tests and
// single-node development setups.
type MemoryStore struct {
	mu        sync.RWMutex
	screens   map[string]*models.Screen
	order     []string // screen ids in insertion order
	rotations map[string][]models.RotationEntry
	now       func() time.Time
	lastStamp time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		screens:   make(map[string]*models.Screen),
		rotations: make(map[string][]models.RotationEntry),
		now:       time.Now,
	}
}

// WithClock replaces the time source used to stamp writes.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// stamp returns a write timestamp strictly after every previous one.
func (m *MemoryStore) stamp() time.Time {
	t := m.now().UTC()
	if !t.After(m.lastStamp) {
		t = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = t
	return t
}

func (m *MemoryStore) ListActiveRotations(ctx context.Context, screenID string) ([]models.RotationEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(screenID), nil
}

func (m *MemoryStore) activeLocked(screenID string) []models.RotationEntry {
	out := make([]models.RotationEntry, 0, len(m.rotations[screenID]))
	for _, r := range m.rotations[screenID] {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sortRotations(out)
	return out
}

func (m *MemoryStore) GetScreen(ctx context.Context, id string) (*models.Screen, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.screens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) FindScreen(ctx context.Context, field Field, value string, activeOnly bool) (*models.Screen, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if value == "" {
		return nil, ErrNotFound
	}

	want, numeric := BroadcastNumber(value)
	if field == FieldBroadcastNumber && !numeric {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		s := m.screens[id]
		if activeOnly && !s.IsActive {
			continue
		}

		var match bool
		switch field {
		case FieldID:
			match = s.ID == value
		case FieldPublicSlug:
			match = s.PublicSlug == value
		case FieldPublicToken:
			match = s.PublicToken == value
		case FieldBroadcastCode:
			match = s.BroadcastCode == value
		case FieldBroadcastNumber:
			n, ok := BroadcastNumber(s.BroadcastCode)
			match = ok && n == want
		default:
			return nil, fmt.Errorf("unsupported lookup field %q", field)
		}

		if match {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetSnapshotVersion(ctx context.Context, screenID, version string, rev Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return ErrNotFound
	}
	if !RevisionOf(s, m.activeLocked(screenID)).Matches(rev) {
		return ErrStale
	}
	s.LayoutSnapshotVersion = version
	return nil
}

// UpsertScreen inserts or replaces a screen.
func (m *MemoryStore) UpsertScreen(ctx context.Context, screen models.Screen) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if screen.ID == "" {
		return fmt.Errorf("screen id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.screens[screen.ID]; !exists {
		m.order = append(m.order, screen.ID)
	}
	screen.UpdatedAt = m.stamp()
	screen.LayoutSnapshotVersion = ""
	m.screens[screen.ID] = &screen
	return nil
}

// UpsertRotation inserts or replaces a rotation entry. Replacing keeps the
// entry's original insertion position.
func (m *MemoryStore) UpsertRotation(ctx context.Context, entry models.RotationEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[entry.ScreenID]
	if !ok {
		return ErrNotFound
	}

	entry.UpdatedAt = m.stamp()
	entries := m.rotations[entry.ScreenID]
	replaced := false
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	m.rotations[entry.ScreenID] = entries

	s.UpdatedAt = entry.UpdatedAt
	s.LayoutSnapshotVersion = ""
	return nil
}

// DeleteRotation removes a rotation entry from a screen.
func (m *MemoryStore) DeleteRotation(ctx context.Context, screenID, rotationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return ErrNotFound
	}

	entries := m.rotations[screenID]
	for i := range entries {
		if entries[i].ID == rotationID {
			m.rotations[screenID] = append(entries[:i:i], entries[i+1:]...)
			s.UpdatedAt = m.stamp()
			s.LayoutSnapshotVersion = ""
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) Close() error {
	return nil
}
