package layout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lister is the part of the artifact store the published index reads.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// SlideCounter reports how many snapshot images of a version exist.
type SlideCounter interface {
	PublishedSlides(ctx context.Context, screenID, version string) (int, error)
}

const maxIndexEntries = 4096

// PublishedIndex counts the snapshot images of a screen version by listing
// the artifact store. A version's image set is complete before the version
// is recorded and never changes afterwards, so non-zero counts are cached.
type PublishedIndex struct {
	lister Lister
	group  singleflight.Group

	mu     sync.RWMutex
	counts map[string]int
}

// NewPublishedIndex creates an index over lister.
func NewPublishedIndex(lister Lister) *PublishedIndex {
	return &PublishedIndex{lister: lister, counts: make(map[string]int)}
}

// PublishedSlides returns n such that slide_0 .. slide_{n-1} all exist.
func (p *PublishedIndex) PublishedSlides(ctx context.Context, screenID, version string) (int, error) {
	prefix := SlidePrefix(screenID) + version + "/"

	p.mu.RLock()
	n, ok := p.counts[prefix]
	p.mu.RUnlock()
	if ok {
		return n, nil
	}

	v, err, _ := p.group.Do(prefix, func() (interface{}, error) {
		keys, err := p.lister.List(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		return contiguousSlides(prefix, keys), nil
	})
	if err != nil {
		return 0, err
	}
	n = v.(int)

	if n > 0 {
		p.mu.Lock()
		if len(p.counts) >= maxIndexEntries {
			p.counts = make(map[string]int)
		}
		p.counts[prefix] = n
		p.mu.Unlock()
	}
	return n, nil
}

// contiguousSlides counts slide_{i}.jpg keys under prefix from index 0 up to
// the first gap.
func contiguousSlides(prefix string, keys []string) int {
	seen := make(map[int]bool, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if !strings.HasPrefix(name, "slide_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		i, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide_"), ".jpg"))
		if err == nil && i >= 0 {
			seen[i] = true
		}
	}
	n := 0
	for seen[n] {
		n++
	}
	return n
}
