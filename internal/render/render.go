// Package render drives a headless browser against the device display page to
// produce still images and raw recordings for the transcode pipeline.
package render

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnavailable means no browser could be started.
	ErrUnavailable = errors.New("rendering unavailable")
	// ErrNavigation means the display page did not load within the ceiling.
	ErrNavigation = errors.New("navigation failed")
)

// Recording methods
const (
	MethodScreencast = "screencast"
	MethodSampled    = "sampled"
)

// Recording is a raw capture on disk: numbered JPEG frames plus an ffconcat
// list carrying each frame's display duration.
type Recording struct {
	Dir        string
	ConcatPath string
	Frames     int
	Method     string
	Duration   time.Duration
}

// Browser captures display pages. Every call runs in its own tab of a shared
// browser process and must be safe for concurrent use.
type Browser interface {
	// Capture navigates to url, waits for the settle delay and returns a JPEG.
	Capture(ctx context.Context, url string) ([]byte, error)
	// Screencast records url for d using the browser's screencast stream.
	Screencast(ctx context.Context, url string, d time.Duration, dir string) (*Recording, error)
	// Sample records url for d by taking fps screenshots per second.
	Sample(ctx context.Context, url string, d time.Duration, fps int, dir string) (*Recording, error)
	Close() error
}

// DisplayURL builds the lite display page address for slug. A non-negative
// rotationIndex pins the first paint to that slide.
func DisplayURL(base, slug string, rotationIndex int) string {
	u := strings.TrimRight(base, "/") + "/display/" + url.PathEscape(slug) + "?lite=1"
	if rotationIndex >= 0 {
		u += "&rotationIndex=" + strconv.Itoa(rotationIndex)
	}
	return u
}
