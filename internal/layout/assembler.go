package layout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/metrics"
	"github.com/koios/signage-sync/internal/store"
	"github.com/koios/signage-sync/internal/version"
	"github.com/koios/signage-sync/pkg/models"
)

var (
	// ErrScreenNotFound means the screen id does not resolve.
	ErrScreenNotFound = errors.New("screen not found")
	// ErrNotConfigured means no rotation store is available.
	ErrNotConfigured = errors.New("layout backend not configured")
)

const (
	DefaultBackground         = "#000000"
	DefaultDuration           = 8
	MinDuration               = 1
	MaxDuration               = 86400
	DefaultTransitionEffect   = "slide-left"
	DefaultTransitionDuration = 5000
	MinTransitionDuration     = 100
	MaxTransitionDuration     = 5000
)

// No content transitions: device registration uses 400 ms, the public
// layout 300 ms.
const (
	NoContentTransition       = 400
	PublicNoContentTransition = 300
)

// NoContentSlide is served when a screen has no active rotations.
func NoContentSlide(transitionMS int) models.SlideDescriptor {
	return models.SlideDescriptor{
		Type:               models.SlideText,
		Title:              "No content",
		Description:        "Add templates in Admin.",
		Duration:           10,
		TransitionEffect:   "fade",
		TransitionDuration: transitionMS,
	}
}

// Assembler composes device layouts from the rotation store.
type Assembler struct {
	store     store.Store
	baseURL   string
	policies  []Policy
	published SlideCounter
	noContent int
	logger    *zap.Logger
}

// NewAssembler creates an assembler. A nil store makes every call fail with
// ErrNotConfigured. An empty baseURL disables image addressing.
func NewAssembler(s store.Store, baseURL string, logger *zap.Logger) *Assembler {
	return &Assembler{
		store:     s,
		baseURL:   baseURL,
		policies:  DefaultPolicies,
		noContent: NoContentTransition,
		logger:    logger,
	}
}

// WithPolicies replaces the addressing policy table.
func (a *Assembler) WithPolicies(policies []Policy) *Assembler {
	a.policies = policies
	return a
}

// WithPublished makes versioned addressing depend on the images c reports
// for the snapshot version. Without it the recorded version is trusted.
func (a *Assembler) WithPublished(c SlideCounter) *Assembler {
	a.published = c
	return a
}

// WithNoContentTransition sets the transition of the empty-rotation slide.
func (a *Assembler) WithNoContentTransition(ms int) *Assembler {
	a.noContent = ms
	return a
}

// Assemble returns the layout for screenID. The result always has at least
// one slide.
func (a *Assembler) Assemble(ctx context.Context, screenID string) (*models.Layout, error) {
	if a.store == nil {
		return nil, ErrNotConfigured
	}

	screen, err := a.store.GetScreen(ctx, screenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrScreenNotFound
		}
		return nil, fmt.Errorf("failed to load screen %s: %w", screenID, err)
	}

	rotations, err := a.store.ListActiveRotations(ctx, screen.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotations for %s: %w", screen.ID, err)
	}

	return a.Build(ctx, screen, rotations), nil
}

// Build assembles a layout from already loaded rows.
func (a *Assembler) Build(ctx context.Context, screen *models.Screen, rotations []models.RotationEntry) *models.Layout {
	ver, explicit := version.Of(screen, rotations)

	layout := &models.Layout{
		Version:         ver,
		BackgroundColor: DefaultBackground,
	}

	if len(rotations) == 0 {
		layout.Slides = []models.SlideDescriptor{NoContentSlide(a.noContent)}
		metrics.LayoutsAssembled.WithLabelValues("empty").Inc()
		return layout
	}

	published := a.publishedSlides(ctx, screen.ID, ver, explicit)

	layout.Slides = make([]models.SlideDescriptor, 0, len(rotations))
	used := make(map[string]int, len(a.policies))
	for i, entry := range rotations {
		slot := Slot{
			ScreenID:        screen.ID,
			ScreenUpdatedAt: screen.UpdatedAt,
			Version:         ver,
			Explicit:        explicit,
			BaseURL:         a.baseURL,
			Index:           i,
			Unpublished:     published >= 0 && i >= published,
			Entry:           entry,
		}
		slide := baseSlide(entry)
		for _, p := range a.policies {
			if p.Applies(slot) {
				p.Address(slot, &slide)
				used[p.Name]++
				break
			}
		}
		if slide.Type == "" {
			// No policy matched; never emit an address that cannot exist.
			slide.Type = models.SlideText
			slide.Title = "Slide"
		}
		layout.Slides = append(layout.Slides, slide)
	}

	if explicit && published >= 0 && published != len(rotations) {
		metrics.LayoutIntegrityWarnings.Inc()
		a.logger.Warn("Layout integrity mismatch",
			zap.String("screen_id", screen.ID),
			zap.String("version", ver),
			zap.Int("published_slides", published),
			zap.Int("active_rotations", len(rotations)),
			zap.Int("versioned_slides", used[PolicyVersioned]))
	}

	metrics.LayoutsAssembled.WithLabelValues(dominantPolicy(used)).Inc()
	return layout
}

// publishedSlides returns how many snapshot images exist for ver, or -1 when
// that is unknown.
func (a *Assembler) publishedSlides(ctx context.Context, screenID, ver string, explicit bool) int {
	if a.published == nil || !explicit || a.baseURL == "" {
		return -1
	}
	n, err := a.published.PublishedSlides(ctx, screenID, ver)
	if err != nil {
		a.logger.Warn("Failed to count published slides",
			zap.String("screen_id", screenID),
			zap.String("version", ver),
			zap.Error(err))
		return -1
	}
	return n
}

func baseSlide(entry models.RotationEntry) models.SlideDescriptor {
	effect := entry.TransitionEffect
	if effect == "" {
		effect = DefaultTransitionEffect
	}
	return models.SlideDescriptor{
		Duration:           Clamp(entry.DisplayDuration.Or(DefaultDuration), MinDuration, MaxDuration),
		TransitionEffect:   effect,
		TransitionDuration: Clamp(entry.TransitionDuration.Or(DefaultTransitionDuration), MinTransitionDuration, MaxTransitionDuration),
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dominantPolicy(used map[string]int) string {
	best, bestN := PolicyText, 0
	for name, n := range used {
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	return best
}
