package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/storage"
)

func TestDisplayURL(t *testing.T) {
	tests := []struct {
		base  string
		slug  string
		index int
		want  string
	}{
		{"https://signage.example", "lobby", -1, "https://signage.example/display/lobby?lite=1"},
		{"https://signage.example/", "lobby", 2, "https://signage.example/display/lobby?lite=1&rotationIndex=2"},
		{"http://localhost:3000", "tv 10/a", 0, "http://localhost:3000/display/tv%2010%2Fa?lite=1&rotationIndex=0"},
	}
	for _, tt := range tests {
		if got := DisplayURL(tt.base, tt.slug, tt.index); got != tt.want {
			t.Errorf("DisplayURL(%q, %q, %d) = %q, want %q", tt.base, tt.slug, tt.index, got, tt.want)
		}
	}
}

func testRenderConfig() config.RenderConfig {
	return config.RenderConfig{
		DisplayBaseURL: "https://signage.example",
		Width:          64,
		Height:         36,
		JPEGQuality:    90,
		Concurrency:    5,
		PoolWorkers:    2,
	}
}

func TestScreenshotBatchPartialFailure(t *testing.T) {
	root := t.TempDir()
	artifacts, err := storage.NewFileSystemStore(root)
	if err != nil {
		t.Fatal(err)
	}

	b := newFakeBrowser(64, 36)
	b.failOn["/display/tv3?"] = fmt.Errorf("%w: timeout after 20s", ErrNavigation)

	slugs := []string{"tv1", "tv2", "tv3", "tv4", "tv5"}
	report := NewScreenshotJob(b, artifacts, testRenderConfig(), zap.NewNop()).Run(context.Background(), slugs)

	if report.Succeeded() != 4 || report.Skipped() != 1 {
		t.Fatalf("succeeded=%d skipped=%d, want 4/1", report.Succeeded(), report.Skipped())
	}
	for i, it := range report.Items {
		if it.Target != slugs[i] {
			t.Errorf("item %d target = %s, want %s", i, it.Target, slugs[i])
		}
	}
	skipped := report.Items[2]
	if skipped.Status != StatusSkipped || !strings.Contains(skipped.Reason, "navigation failed") {
		t.Errorf("item 2 = %+v, want skipped navigation failure", skipped)
	}

	for _, slug := range slugs {
		_, err := os.Stat(filepath.Join(root, slug+".jpg"))
		if slug == "tv3" {
			if !os.IsNotExist(err) {
				t.Errorf("failed capture was published: %v", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("missing artifact for %s: %v", slug, err)
		}
	}
}

func TestRunBatchesBoundsConcurrency(t *testing.T) {
	b := newFakeBrowser(8, 8)
	b.delay = 20 * time.Millisecond

	task := func(ctx context.Context, target string) ([]string, error) {
		_, err := b.Capture(ctx, target)
		return nil, err
	}
	targets := []string{"a", "b", "c", "d", "e"}
	report := RunBatches(context.Background(), "test", targets, 2, task, zap.NewNop())

	if report.Succeeded() != len(targets) {
		t.Fatalf("succeeded = %d, want %d", report.Succeeded(), len(targets))
	}
	if b.maxSeen > 2 {
		t.Errorf("max in flight = %d, want <= 2", b.maxSeen)
	}
}

func TestRunBatchesRecoversPanic(t *testing.T) {
	task := func(ctx context.Context, target string) ([]string, error) {
		if target == "boom" {
			panic("page crashed")
		}
		return []string{target + ".jpg"}, nil
	}
	report := RunBatches(context.Background(), "test", []string{"ok", "boom", "fine"}, 3, task, zap.NewNop())

	if report.Succeeded() != 2 || report.Skipped() != 1 {
		t.Fatalf("succeeded=%d skipped=%d, want 2/1", report.Succeeded(), report.Skipped())
	}
	if !strings.Contains(report.Items[1].Reason, "page crashed") {
		t.Errorf("reason = %q", report.Items[1].Reason)
	}
	if got := report.Items[2].Artifacts; len(got) != 1 || got[0] != "fine.jpg" {
		t.Errorf("artifacts = %v", got)
	}
}

func TestRunBatchesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran int32
	task := func(ctx context.Context, target string) ([]string, error) {
		atomic.AddInt32(&ran, 1)
		cancel()
		return nil, nil
	}
	report := RunBatches(ctx, "test", []string{"a", "b", "c"}, 1, task, zap.NewNop())

	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("ran %d tasks after cancel, want 1", ran)
	}
	if report.Skipped() != 2 {
		t.Errorf("skipped = %d, want 2", report.Skipped())
	}
}

func TestNormalize(t *testing.T) {
	t.Run("resizes to frame", func(t *testing.T) {
		out, err := Normalize(solidJPEG(100, 50, 1), 64, 36, 80)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if w, h := mustDecodeSize(t, out); w != 64 || h != 36 {
			t.Errorf("size = %dx%d, want 64x36", w, h)
		}
	})

	t.Run("keeps matching capture", func(t *testing.T) {
		in := solidJPEG(64, 36, 2)
		out, err := Normalize(in, 64, 36, 80)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Error("capture at target size was re-encoded")
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := Normalize([]byte("not an image"), 64, 36, 80); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestRecordStrategy(t *testing.T) {
	opts := RecordOptions{MaxScreencast: 180 * time.Second, SampleFPS: 2}
	ctx := context.Background()

	t.Run("screencast preferred", func(t *testing.T) {
		b := newFakeBrowser(8, 8)
		rec, err := Record(ctx, b, "u", 30*time.Second, t.TempDir(), opts, zap.NewNop())
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if rec.Method != MethodScreencast || b.samples != 0 {
			t.Errorf("method = %s samples = %d", rec.Method, b.samples)
		}
	})

	t.Run("falls back to sampling", func(t *testing.T) {
		b := newFakeBrowser(8, 8)
		b.screencastErr = errors.New("screencast not supported")
		rec, err := Record(ctx, b, "u", 3*time.Second, t.TempDir(), opts, zap.NewNop())
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if rec.Method != MethodSampled || rec.Frames != 6 {
			t.Errorf("got %s with %d frames, want sampled with 6", rec.Method, rec.Frames)
		}
	})

	t.Run("long recordings are sampled", func(t *testing.T) {
		b := newFakeBrowser(8, 8)
		rec, err := Record(ctx, b, "u", 200*time.Second, t.TempDir(), RecordOptions{MaxScreencast: 180 * time.Second, SampleFPS: 1}, zap.NewNop())
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if rec.Method != MethodSampled || b.callCount() != 1 {
			t.Errorf("method = %s calls = %d", rec.Method, b.callCount())
		}
	})

	t.Run("navigation failure is not retried", func(t *testing.T) {
		b := newFakeBrowser(8, 8)
		b.failOn["u"] = ErrNavigation
		if _, err := Record(ctx, b, "u", 10*time.Second, t.TempDir(), opts, zap.NewNop()); !errors.Is(err, ErrNavigation) {
			t.Fatalf("got %v, want ErrNavigation", err)
		}
		if b.samples != 0 {
			t.Errorf("sampled after navigation failure")
		}
	})
}

func TestWriteConcat(t *testing.T) {
	dir := t.TempDir()
	path, err := writeConcat(dir, []frame{
		{Name: "frame00000.jpg", Duration: 500 * time.Millisecond},
		{Name: "frame00001.jpg", Duration: 0},
	})
	if err != nil {
		t.Fatalf("writeConcat: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "ffconcat version 1.0\n" +
		"file 'frame00000.jpg'\nduration 0.500\n" +
		"file 'frame00001.jpg'\nduration 0.010\n" +
		"file 'frame00001.jpg'\n"
	if string(data) != want {
		t.Errorf("concat list =\n%s\nwant\n%s", data, want)
	}
}

func TestWorkerPool(t *testing.T) {
	b := newFakeBrowser(64, 36)
	b.failOn["/display/broken?"] = ErrNavigation

	pool := NewWorkerPool(b, testRenderConfig(), zap.NewNop())
	pool.Start()

	ctx := context.Background()
	img, err := pool.Submit(ctx, "lobby")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if w, h := mustDecodeSize(t, img); w != 64 || h != 36 {
		t.Errorf("size = %dx%d", w, h)
	}

	if _, err := pool.Submit(ctx, "broken"); !errors.Is(err, ErrNavigation) {
		t.Errorf("got %v, want ErrNavigation", err)
	}

	pool.Stop()
	if _, err := pool.Submit(ctx, "lobby"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("after Stop: got %v, want ErrUnavailable", err)
	}
}
