package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/pkg/models"
)

var (
	// ErrCodeNotFound means no active screen matched an activation code.
	ErrCodeNotFound = errors.New("display code not found")
	// ErrDisplayNotFound means no active screen matched a public display id.
	ErrDisplayNotFound = errors.New("display not found")
)

// Strategy is one addressing scheme tried when resolving a code.
type Strategy struct {
	Name    string
	Field   store.Field
	Applies func(code string) bool
}

func always(string) bool { return true }

func isDigits(code string) bool {
	_, ok := store.BroadcastNumber(code)
	return ok
}

func isUUID(code string) bool {
	return len(code) == 36 && uuid.Validate(code) == nil
}

// ActivationStrategies is the priority order for operator-entered codes.
var ActivationStrategies = []Strategy{
	{Name: "broadcast_code", Field: store.FieldBroadcastCode, Applies: always},
	{Name: "broadcast_number", Field: store.FieldBroadcastNumber, Applies: isDigits},
	{Name: "public_slug", Field: store.FieldPublicSlug, Applies: always},
	{Name: "public_token", Field: store.FieldPublicToken, Applies: always},
}

// PublicStrategies is the priority order for public display ids.
var PublicStrategies = []Strategy{
	{Name: "public_slug", Field: store.FieldPublicSlug, Applies: always},
	{Name: "public_token", Field: store.FieldPublicToken, Applies: always},
	{Name: "broadcast_code", Field: store.FieldBroadcastCode, Applies: always},
	{Name: "id", Field: store.FieldID, Applies: isUUID},
	{Name: "broadcast_number", Field: store.FieldBroadcastNumber, Applies: isDigits},
}

// Activation is the outcome of a successful device registration.
type Activation struct {
	Screen   *models.Screen
	Token    string
	Strategy string
}

// Resolver maps credentials and codes to active screens.
type Resolver struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a resolver over s.
func NewResolver(s store.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: s, logger: logger, now: time.Now}
}

// Authenticate verifies a device credential and returns its active screen.
func (r *Resolver) Authenticate(ctx context.Context, token string) (*models.Screen, error) {
	screenID, err := Parse(token)
	if err != nil {
		return nil, err
	}

	screen, err := r.store.GetScreen(ctx, screenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to load screen for credential: %w", err)
	}
	if !screen.IsActive {
		return nil, ErrInvalidCredential
	}
	return screen, nil
}

// Activate resolves an activation code and mints a credential for deviceID.
func (r *Resolver) Activate(ctx context.Context, code, deviceID string) (*Activation, error) {
	code = strings.TrimSpace(code)
	screen, strategy, err := r.resolve(ctx, ActivationStrategies, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Info("Activation code not found", zap.String("display_code", code))
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	token, err := Mint(screen.ID, strings.TrimSpace(deviceID), r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mint credential: %w", err)
	}

	r.logger.Info("Device activated",
		zap.String("screen_id", screen.ID),
		zap.String("strategy", strategy),
		zap.String("display_code", code))

	return &Activation{Screen: screen, Token: token, Strategy: strategy}, nil
}

// Lookup resolves a public display id.
func (r *Resolver) Lookup(ctx context.Context, displayID string) (*models.Screen, error) {
	screen, _, err := r.resolve(ctx, PublicStrategies, strings.TrimSpace(displayID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDisplayNotFound
		}
		return nil, err
	}
	return screen, nil
}

// resolve walks strategies in order; the first active match wins. Store
// failures abort the walk instead of being read as "no match".
func (r *Resolver) resolve(ctx context.Context, strategies []Strategy, code string) (*models.Screen, string, error) {
	if code == "" {
		return nil, "", store.ErrNotFound
	}
	for _, s := range strategies {
		if !s.Applies(code) {
			continue
		}
		screen, err := r.store.FindScreen(ctx, s.Field, code, true)
		if err == nil {
			return screen, s.Name, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("lookup by %s failed: %w", s.Name, err)
		}
	}
	return nil, "", store.ErrNotFound
}
