package layout

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/koios/signage-sync/pkg/models"
)

// Slot is everything an addressing policy may look at for one slide.
type Slot struct {
	ScreenID        string
	ScreenUpdatedAt time.Time
	Version         string
	Explicit        bool // version is a published snapshot, not a timestamp
	BaseURL         string
	Index           int
	Unpublished     bool // the snapshot image for Index is known to be missing
	Entry           models.RotationEntry
}

// Policy is one addressing strategy. Applies is its activation predicate and
// Address fills in the type and location of the slide.
type Policy struct {
	Name    string
	Applies func(s Slot) bool
	Address func(s Slot, d *models.SlideDescriptor)
}

// Policy names
const (
	PolicyVersioned = "versioned"
	PolicyLegacy    = "legacy"
	PolicyText      = "text"
)

// DefaultPolicies is the addressing priority: published snapshot images, then
// per-template images, then a text placeholder that references nothing. A slot
// beyond the published snapshot images gets the placeholder.
var DefaultPolicies = []Policy{
	{
		Name:    PolicyVersioned,
		Applies: func(s Slot) bool {
			return s.Explicit && s.Version != "" && s.BaseURL != "" && !s.Unpublished
		},
		Address: func(s Slot, d *models.SlideDescriptor) {
			d.Type = models.SlideImage
			d.URL = withCacheKey(VersionedSlideURL(s.BaseURL, s.ScreenID, s.Version, s.Index),
				s.ScreenUpdatedAt.UTC().Format(time.RFC3339Nano))
		},
	},
	{
		Name:    PolicyLegacy,
		// Publishing a snapshot removes per-template images, so a slot missing
		// from the snapshot has none either.
		Applies: func(s Slot) bool { return s.BaseURL != "" && s.Entry.TemplateRef() != "" && !s.Unpublished },
		Address: func(s Slot, d *models.SlideDescriptor) {
			d.Type = models.SlideImage
			d.URL = withCacheKey(LegacySlideURL(s.BaseURL, s.ScreenID, s.Entry.TemplateRef(), s.Index), s.Version)
		},
	},
	{
		Name:    PolicyText,
		Applies: func(Slot) bool { return true },
		Address: func(_ Slot, d *models.SlideDescriptor) {
			d.Type = models.SlideText
			d.Title = "Slide"
		},
	},
}

// VersionedSlideKey is the store key of a snapshot slide image.
func VersionedSlideKey(screenID, version string, index int) string {
	return fmt.Sprintf("slides/%s/%s/slide_%d.jpg", screenID, version, index)
}

// LegacySlideKey is the store key of a per-template slide image.
func LegacySlideKey(screenID, templateID string, index int) string {
	return fmt.Sprintf("slides/%s/%s-%d.jpg", screenID, templateID, index)
}

// SlidePrefix is the store prefix holding every slide of a screen.
func SlidePrefix(screenID string) string {
	return fmt.Sprintf("slides/%s/", screenID)
}

// VersionedSlideURL addresses a snapshot slide under base.
func VersionedSlideURL(base, screenID, version string, index int) string {
	return strings.TrimRight(base, "/") + "/" + VersionedSlideKey(screenID, version, index)
}

// LegacySlideURL addresses a per-template slide under base.
func LegacySlideURL(base, screenID, templateID string, index int) string {
	return strings.TrimRight(base, "/") + "/" + LegacySlideKey(screenID, templateID, index)
}

var cacheKeyReplacer = strings.NewReplacer(":", "-", ".", "-")

// withCacheKey appends ?v= with a URL-safe form of key.
func withCacheKey(u, key string) string {
	if key == "" {
		return u
	}
	return u + "?v=" + url.QueryEscape(cacheKeyReplacer.Replace(key))
}
