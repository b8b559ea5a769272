package handlers

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/layout"
	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/internal/storage"
	"github.com/koios/signage-sync/pkg/models"
)

// stillBrowser returns a solid JPEG for every capture, or failErr for URLs
// containing failOn.
type stillBrowser struct {
	failOn  string
	failErr error
}

func (b *stillBrowser) Capture(_ context.Context, url string) ([]byte, error) {
	if b.failOn != "" && strings.Contains(url, b.failOn) {
		return nil, b.failErr
	}
	var buf bytes.Buffer
	img := imaging.New(32, 18, color.NRGBA{R: 200, A: 255})
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *stillBrowser) Screencast(context.Context, string, time.Duration, string) (*render.Recording, error) {
	return nil, errors.New("not supported")
}

func (b *stillBrowser) Sample(context.Context, string, time.Duration, int, string) (*render.Recording, error) {
	return nil, errors.New("not supported")
}

func (b *stillBrowser) Close() error { return nil }

func renderConfig() config.RenderConfig {
	return config.RenderConfig{
		DisplayBaseURL: "http://display.test",
		Width:          32,
		Height:         18,
		JPEGQuality:    80,
		Concurrency:    2,
	}
}

func newEventHandler(t *testing.T, b render.Browser) (*EventHandler, storage.ArtifactStore) {
	t.Helper()
	s := seedStore(t)
	artifacts, err := storage.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := renderConfig()
	slides := render.NewSlideGenerator(b, s, artifacts, cfg, zap.NewNop())
	shots := render.NewScreenshotJob(b, artifacts, cfg, zap.NewNop())
	return NewEventHandler(slides, shots, s, zap.NewNop()), artifacts
}

func request(mode string) *models.RenderRequest {
	return &models.RenderRequest{Type: models.RenderRequestType, UUID: "req-1", ScreenID: lobbyID, Mode: mode}
}

func TestHandleSlides(t *testing.T) {
	h, artifacts := newEventHandler(t, &stillBrowser{})
	ctx := context.Background()

	result, err := h.Handle(ctx, request(models.RenderModeSlides))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Type != models.RenderResultType || result.UUID != "req-1" || result.ScreenID != lobbyID {
		t.Errorf("result header = %+v", result)
	}
	if result.Generated != 3 || result.Version == "" || result.Failed() {
		t.Fatalf("result = %+v", result)
	}

	keys, err := artifacts.List(ctx, layout.SlidePrefix(lobbyID))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Errorf("published %v, want 3 slides", keys)
	}
}

func TestHandleSlidesDefaultsMode(t *testing.T) {
	h, _ := newEventHandler(t, &stillBrowser{})
	req := request("")
	result, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if req.Mode != models.RenderModeSlides || result.Mode != models.RenderModeSlides {
		t.Errorf("mode = %q / %q", req.Mode, result.Mode)
	}
}

func TestHandleSlidesPartialCapture(t *testing.T) {
	h, artifacts := newEventHandler(t, &stillBrowser{failOn: "rotationIndex=1", failErr: render.ErrNavigation})

	result, err := h.Handle(context.Background(), request(models.RenderModeSlides))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Failed() || result.Generated != 0 {
		t.Errorf("result = %+v, want errors and nothing generated", result)
	}
	keys, _ := artifacts.List(context.Background(), layout.SlidePrefix(lobbyID))
	if len(keys) != 0 {
		t.Errorf("published %v from a partial capture", keys)
	}
}

func TestHandleScreenshot(t *testing.T) {
	h, artifacts := newEventHandler(t, &stillBrowser{})

	result, err := h.Handle(context.Background(), request(models.RenderModeScreenshot))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Generated != 1 || result.Failed() {
		t.Fatalf("result = %+v", result)
	}
	keys, _ := artifacts.List(context.Background(), "")
	if len(keys) != 1 || keys[0] != "lobby.jpg" {
		t.Errorf("keys = %v, want [lobby.jpg]", keys)
	}
}

func TestHandleScreenshotFailureReported(t *testing.T) {
	h, _ := newEventHandler(t, &stillBrowser{failOn: "lobby", failErr: render.ErrNavigation})

	result, err := h.Handle(context.Background(), request(models.RenderModeScreenshot))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Failed() || result.Generated != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleRejects(t *testing.T) {
	h, _ := newEventHandler(t, &stillBrowser{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  *models.RenderRequest
		want error
	}{
		{"wrong type", &models.RenderRequest{Type: "other", ScreenID: lobbyID}, nil},
		{"missing screen", &models.RenderRequest{Type: models.RenderRequestType}, nil},
		{"unknown mode", &models.RenderRequest{Type: models.RenderRequestType, ScreenID: lobbyID, Mode: "video"}, nil},
		{"no rotations", &models.RenderRequest{Type: models.RenderRequestType, ScreenID: emptyID, Mode: models.RenderModeSlides}, render.ErrNoRotations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHandleWithoutGenerators(t *testing.T) {
	h := NewEventHandler(nil, nil, nil, zap.NewNop())
	for _, mode := range []string{models.RenderModeSlides, models.RenderModeScreenshot} {
		result, err := h.Handle(context.Background(), request(mode))
		if !errors.Is(err, render.ErrUnavailable) {
			t.Errorf("%s: err = %v, want ErrUnavailable", mode, err)
		}
		if result == nil || !result.Failed() {
			t.Errorf("%s: result = %+v, want failed result", mode, result)
		}
	}
}
