package layout

import (
	"context"
	"errors"
	"testing"
)

type fakeLister struct {
	keys  []string
	err   error
	calls int
}

func (f *fakeLister) List(ctx context.Context, prefix string) ([]string, error) {
	f.calls++
	return f.keys, f.err
}

func TestPublishedSlides(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want int
	}{
		{"none", nil, 0},
		{"complete", []string{
			VersionedSlideKey("s1", "v1", 1),
			VersionedSlideKey("s1", "v1", 0),
			VersionedSlideKey("s1", "v1", 2),
		}, 3},
		{"gap stops the count", []string{
			VersionedSlideKey("s1", "v1", 0),
			VersionedSlideKey("s1", "v1", 2),
		}, 1},
		{"other files ignored", []string{
			VersionedSlideKey("s1", "v1", 0),
			"slides/s1/v1/.upload-123",
			"slides/s1/v1/slide_x.jpg",
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewPublishedIndex(&fakeLister{keys: tt.keys})
			got, err := idx.PublishedSlides(context.Background(), "s1", "v1")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPublishedSlidesCache(t *testing.T) {
	ctx := context.Background()

	lister := &fakeLister{keys: []string{VersionedSlideKey("s1", "v1", 0)}}
	idx := NewPublishedIndex(lister)
	for i := 0; i < 3; i++ {
		if n, err := idx.PublishedSlides(ctx, "s1", "v1"); err != nil || n != 1 {
			t.Fatalf("got %d, %v", n, err)
		}
	}
	if lister.calls != 1 {
		t.Errorf("listed %d times, want 1", lister.calls)
	}

	// Empty results are not cached; the upload may still be landing.
	empty := &fakeLister{}
	idx = NewPublishedIndex(empty)
	idx.PublishedSlides(ctx, "s1", "v2")
	idx.PublishedSlides(ctx, "s1", "v2")
	if empty.calls != 2 {
		t.Errorf("listed %d times, want 2", empty.calls)
	}

	failing := NewPublishedIndex(&fakeLister{err: errors.New("boom")})
	if _, err := failing.PublishedSlides(ctx, "s1", "v1"); err == nil {
		t.Error("expected error")
	}
}
