package render

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
)

// fakeBrowser serves solid-colour JPEGs and fails URLs containing a
// configured marker.
type fakeBrowser struct {
	width, height int
	failOn        map[string]error
	delay         time.Duration
	screencastErr error

	mu       sync.Mutex
	calls    []string
	inFlight int
	maxSeen  int
	samples  int
}

func newFakeBrowser(w, h int) *fakeBrowser {
	return &fakeBrowser{width: w, height: h, failOn: map[string]error{}}
}

func (f *fakeBrowser) enter(url string) error {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	for marker, err := range f.failOn {
		if strings.Contains(url, marker) {
			return err
		}
	}
	return nil
}

func (f *fakeBrowser) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeBrowser) Capture(ctx context.Context, url string) ([]byte, error) {
	defer f.leave()
	if err := f.enter(url); err != nil {
		return nil, err
	}
	return solidJPEG(f.width, f.height, len(url)), nil
}

func (f *fakeBrowser) Screencast(ctx context.Context, url string, d time.Duration, dir string) (*Recording, error) {
	defer f.leave()
	if err := f.enter(url); err != nil {
		return nil, err
	}
	if f.screencastErr != nil {
		return nil, f.screencastErr
	}
	return writeFakeFrames(dir, 3, MethodScreencast, d)
}

func (f *fakeBrowser) Sample(ctx context.Context, url string, d time.Duration, fps int, dir string) (*Recording, error) {
	defer f.leave()
	f.mu.Lock()
	f.samples++
	f.mu.Unlock()
	if err := f.enter(url); err != nil {
		return nil, err
	}
	return writeFakeFrames(dir, int(d.Seconds())*fps, MethodSampled, d)
}

func (f *fakeBrowser) Close() error { return nil }

func (f *fakeBrowser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeFakeFrames(dir string, n int, method string, d time.Duration) (*Recording, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	frames := make([]frame, n)
	for i := range frames {
		frames[i] = frame{Name: frameName(i), Duration: d / time.Duration(n)}
		if err := os.WriteFile(filepath.Join(dir, frames[i].Name), solidJPEG(8, 8, i), 0644); err != nil {
			return nil, err
		}
	}
	return finishRecording(dir, frames, method, d)
}

func solidJPEG(w, h, seed int) []byte {
	img := imaging.New(w, h, color.NRGBA{R: uint8(seed * 37), G: uint8(seed * 11), B: 200, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		panic(fmt.Sprintf("encode test image: %v", err))
	}
	return buf.Bytes()
}

func mustDecodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}
