package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/pkg/models"
)

const (
	screenA = "3f1c2b9e-8d4a-4c7e-9a51-0b6d2e4f7a10"
	screenB = "b27e5d40-1a3c-4f8b-8e92-6c0d1f3a5b27"
	screenC = "c9d8e7f6-a5b4-4c3d-8e2f-1a0b9c8d7e6f"
)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	screens := []models.Screen{
		{ID: screenA, BroadcastCode: "12345", PublicSlug: "lobby", PublicToken: "pub-a", IsActive: true},
		{ID: screenB, PublicSlug: "12345", BroadcastCode: "0777", PublicToken: "pub-b", IsActive: true},
		{ID: screenC, PublicSlug: "closed", BroadcastCode: "999", IsActive: false},
	}
	for _, sc := range screens {
		if err := s.UpsertScreen(ctx, sc); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestMintParseRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	for _, id := range []string{screenA, screenB} {
		token, err := Mint(id, "android-tv-device-42", now)
		if err != nil {
			t.Fatalf("Mint(%s): %v", id, err)
		}
		want := "dt_" + id + "_android-_1700000000123"
		if token != want {
			t.Errorf("token = %q, want %q", token, want)
		}
		got, err := Parse(token)
		if err != nil {
			t.Fatalf("Parse(%q): %v", token, err)
		}
		if got != id {
			t.Errorf("Parse = %q, want %q", got, id)
		}
	}
}

func TestMintKeepsDeviceSuffixWhole(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	tests := []struct {
		device string
		suffix string
	}{
		{"wohnzimmer-fernseher", "wohnzimm"},
		{"téléviseur-salon", "télévise"},
		{"会議室のテレビ端末です", "会議室のテレビ端"},
		{"tv", "tv"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			token, err := Mint(screenA, tt.device, now)
			if err != nil {
				t.Fatal(err)
			}
			if !utf8.ValidString(token) {
				t.Errorf("token %q is not valid UTF-8", token)
			}
			want := "dt_" + screenA + "_" + tt.suffix + "_1700000000123"
			if token != want {
				t.Errorf("token = %q, want %q", token, want)
			}
			if got, err := Parse(token); err != nil || got != screenA {
				t.Errorf("Parse = %q, %v", got, err)
			}
		})
	}
}

func TestMintRejectsUnencodableID(t *testing.T) {
	for _, id := range []string{"", "Screen_1", "ABC", "a_b"} {
		if _, err := Mint(id, "dev", time.Now()); err == nil {
			t.Errorf("Mint(%q) expected error", id)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  string
		err   error
	}{
		{"", "", ErrMissingCredential},
		{"  ", "", ErrMissingCredential},
		{"garbage", "", ErrInvalidCredential},
		{"dt_" + screenA, "", ErrInvalidCredential},
		{"dt_XYZ_dev_1", "", ErrInvalidCredential},
		{"dt_" + screenA + "__1", screenA, nil},
		{"dt_" + screenA + "_dev_1", screenA, nil},
	}
	for _, tt := range tests {
		got, err := Parse(tt.token)
		if !errors.Is(err, tt.err) || got != tt.want {
			t.Errorf("Parse(%q) = (%q, %v), want (%q, %v)", tt.token, got, err, tt.want, tt.err)
		}
	}
}

func TestFromRequest(t *testing.T) {
	t.Run("header wins", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/device/layout?deviceToken=query", nil)
		r.Header.Set("Authorization", "Bearer bearer")
		r.Header.Set("X-Device-Token", "header")
		if got, _ := FromRequest(r); got != "header" {
			t.Errorf("got %q, want header", got)
		}
	})

	t.Run("bearer before query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/device/layout?deviceToken=query", nil)
		r.Header.Set("Authorization", "bearer  bearer-token ")
		if got, _ := FromRequest(r); got != "bearer-token" {
			t.Errorf("got %q, want bearer-token", got)
		}
	})

	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/device/layout?deviceToken=query", nil)
		if got, _ := FromRequest(r); got != "query" {
			t.Errorf("got %q, want query", got)
		}
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/device/layout", nil)
		r.Header.Set("Authorization", "Basic abc")
		if _, err := FromRequest(r); !errors.Is(err, ErrMissingCredential) {
			t.Errorf("got %v, want ErrMissingCredential", err)
		}
	})
}

func TestAuthenticate(t *testing.T) {
	r := NewResolver(seededStore(t), zap.NewNop())
	ctx := context.Background()

	token, _ := Mint(screenA, "dev", time.Now())
	screen, err := r.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if screen.ID != screenA {
		t.Errorf("screen = %s, want %s", screen.ID, screenA)
	}

	inactive, _ := Mint(screenC, "dev", time.Now())
	unknown, _ := Mint("0000aaaa-0000-0000-0000-000000000000", "dev", time.Now())
	for _, tok := range []string{inactive, unknown, "dt_nope"} {
		if _, err := r.Authenticate(ctx, tok); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Authenticate(%q) = %v, want ErrInvalidCredential", tok, err)
		}
	}
}

func TestActivate(t *testing.T) {
	r := NewResolver(seededStore(t), zap.NewNop())
	r.now = func() time.Time { return time.UnixMilli(42) }
	ctx := context.Background()

	tests := []struct {
		code     string
		screen   string
		strategy string
	}{
		// "12345" is screen A's broadcast code and screen B's slug.
		{"12345", screenA, "broadcast_code"},
		{"777", screenB, "broadcast_number"},
		{"lobby", screenA, "public_slug"},
		{"pub-b", screenB, "public_token"},
		{" lobby ", screenA, "public_slug"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			act, err := r.Activate(ctx, tt.code, "device-abcdefgh-1")
			if err != nil {
				t.Fatalf("Activate: %v", err)
			}
			if act.Screen.ID != tt.screen || act.Strategy != tt.strategy {
				t.Errorf("got (%s, %s), want (%s, %s)", act.Screen.ID, act.Strategy, tt.screen, tt.strategy)
			}
			if !strings.HasPrefix(act.Token, "dt_"+tt.screen+"_device-a_") {
				t.Errorf("unexpected token %q", act.Token)
			}
			id, err := Parse(act.Token)
			if err != nil || id != tt.screen {
				t.Errorf("token does not round-trip: %q -> %q, %v", act.Token, id, err)
			}
		})
	}

	for _, code := range []string{"", "closed", "999", "unknown"} {
		if _, err := r.Activate(ctx, code, "dev"); !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("Activate(%q) = %v, want ErrCodeNotFound", code, err)
		}
	}
}

func TestLookup(t *testing.T) {
	r := NewResolver(seededStore(t), zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		id   string
		want string
	}{
		// Public lookups prefer the slug over the broadcast code.
		{"12345", screenB},
		{"pub-a", screenA},
		{"0777", screenB},
		{"777", screenB},
		{screenA, screenA},
	}
	for _, tt := range tests {
		got, err := r.Lookup(ctx, tt.id)
		if err != nil {
			t.Errorf("Lookup(%q): %v", tt.id, err)
			continue
		}
		if got.ID != tt.want {
			t.Errorf("Lookup(%q) = %s, want %s", tt.id, got.ID, tt.want)
		}
	}

	for _, id := range []string{"closed", screenC, "missing"} {
		if _, err := r.Lookup(ctx, id); !errors.Is(err, ErrDisplayNotFound) {
			t.Errorf("Lookup(%q) = %v, want ErrDisplayNotFound", id, err)
		}
	}
}

type failingStore struct{ store.Store }

func (failingStore) FindScreen(context.Context, store.Field, string, bool) (*models.Screen, error) {
	return nil, errors.New("connection refused")
}

func TestResolveStoreFailureIsNotNotFound(t *testing.T) {
	r := NewResolver(failingStore{}, zap.NewNop())
	_, err := r.Activate(context.Background(), "12345", "dev")
	if err == nil || errors.Is(err, ErrCodeNotFound) {
		t.Errorf("got %v, want a store error distinct from ErrCodeNotFound", err)
	}
}
