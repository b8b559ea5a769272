// Package transcode turns raw recordings into HLS bundles and publishes them
// as a screen's live stream output.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/metrics"
)

// ErrToolMissing means ffmpeg is not installed.
var ErrToolMissing = errors.New("required tool not found")

const (
	PlaylistName = "playlist.m3u8"
	LoopName     = "loop.mp4"
	// Encodes smaller than this are treated as failed captures.
	minMP4Size = 1000
)

// Result describes a published stream.
type Result struct {
	LiveDir  string
	Files    []string
	Removed  int
	Duration float64 // seconds, zero when ffprobe was unavailable
}

// Pipeline encodes, segments and publishes recordings.
type Pipeline struct {
	runner    Runner
	cfg       config.VideoConfig
	publisher Publisher
	tempRoot  string
	logger    *zap.Logger
}

// NewPipeline creates a pipeline for cfg.
func NewPipeline(r Runner, cfg config.VideoConfig, logger *zap.Logger) (*Pipeline, error) {
	pub, err := NewPublisher(cfg.PublishMode)
	if err != nil {
		return nil, err
	}
	return &Pipeline{runner: r, cfg: cfg, publisher: pub, logger: logger}, nil
}

// WithTempRoot sets where per-screen working directories are created.
func (p *Pipeline) WithTempRoot(dir string) *Pipeline {
	p.tempRoot = dir
	return p
}

// CheckTools verifies ffmpeg is available. A missing ffprobe only disables
// the loop file.
func (p *Pipeline) CheckTools() error {
	if _, err := p.runner.LookPath(p.cfg.FFmpegPath); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolMissing, p.cfg.FFmpegPath, err)
	}
	if _, err := p.runner.LookPath(p.cfg.FFprobePath); err != nil {
		p.logger.Warn("ffprobe not found, loop files will not be written",
			zap.String("ffprobe", p.cfg.FFprobePath))
	}
	return nil
}

// TempDir creates a working directory that the caller must remove.
func (p *Pipeline) TempDir(slug string) (string, error) {
	dir, err := os.MkdirTemp(p.tempRoot, "signage-video-"+sanitize(slug)+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, nil
}

// Process encodes the ffconcat recording at concatPath, segments it into HLS
// and publishes the bundle to liveDir. The working directory is always
// removed. liveDir is untouched unless segmenting succeeded.
func (p *Pipeline) Process(ctx context.Context, slug, concatPath string, seconds int, liveDir string) (*Result, error) {
	work, err := p.TempDir(slug)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	mp4 := filepath.Join(work, "output.mp4")
	if err := p.Encode(ctx, concatPath, seconds, mp4); err != nil {
		return nil, err
	}

	hlsDir := filepath.Join(work, "hls")
	if err := os.Mkdir(hlsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create hls dir: %w", err)
	}
	if err := p.Segment(ctx, mp4, hlsDir); err != nil {
		return nil, err
	}

	result := &Result{LiveDir: liveDir}

	// The loop file is a convenience for players without HLS looping.
	if dur, err := p.Probe(ctx, mp4); err != nil {
		p.logger.Warn("Could not probe duration, skipping loop file", zap.String("slug", slug), zap.Error(err))
	} else {
		result.Duration = dur
		if err := p.Loop(ctx, mp4, dur, filepath.Join(hlsDir, LoopName)); err != nil {
			p.logger.Warn("Loop file failed", zap.String("slug", slug), zap.Error(err))
		}
	}

	files, err := listFiles(hlsDir)
	if err != nil {
		return nil, err
	}

	removed, err := p.publisher.Publish(hlsDir, liveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", slug, err)
	}
	result.Files = files
	result.Removed = removed

	metrics.ArtifactsPublished.WithLabelValues("stream").Add(float64(len(files)))
	metrics.ArtifactsDeleted.WithLabelValues("stream").Add(float64(removed))

	p.logger.Info("Stream published",
		zap.String("slug", slug),
		zap.String("playlist", filepath.Join(liveDir, PlaylistName)),
		zap.Int("files", len(files)),
		zap.Int("removed", removed))

	return result, nil
}

// Encode renders the frame list into an H.264 MP4 of at most seconds.
func (p *Pipeline) Encode(ctx context.Context, concatPath string, seconds int, out string) error {
	err := p.step(ctx, "encode", p.cfg.FFmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", "25",
		"-t", strconv.Itoa(seconds),
		out,
	)
	if err != nil {
		return err
	}
	fi, err := os.Stat(out)
	if err != nil || fi.Size() < minMP4Size {
		metrics.TranscodeFailures.WithLabelValues("encode").Inc()
		return fmt.Errorf("encode produced no usable mp4")
	}
	return nil
}

// Segment writes playlist.m3u8 and segmentNNN.ts into hlsDir.
func (p *Pipeline) Segment(ctx context.Context, mp4, hlsDir string) error {
	playlist := filepath.Join(hlsDir, PlaylistName)
	err := p.step(ctx, "segment", p.cfg.FFmpegPath,
		"-y",
		"-i", mp4,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-hls_time", strconv.Itoa(p.cfg.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(hlsDir, "segment%03d.ts"),
		playlist,
	)
	if err != nil {
		return err
	}
	if _, err := os.Stat(playlist); err != nil {
		metrics.TranscodeFailures.WithLabelValues("segment").Inc()
		return fmt.Errorf("segmenting produced no playlist")
	}
	return nil
}

// Probe returns the duration of a media file in seconds.
func (p *Pipeline) Probe(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Run(ctx, p.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", out, err)
	}
	return dur, nil
}

// Loop writes a copy of mp4 whose last overlap seconds are replaced by its
// first ones, so back-to-back playback has no visible seam.
func (p *Pipeline) Loop(ctx context.Context, mp4 string, dur float64, out string) error {
	overlap := float64(p.cfg.LoopOverlap)
	head := dur - overlap
	if head < 0.5 {
		head = 0.5
	}
	if overlap > dur {
		overlap = dur
	}
	filter := fmt.Sprintf("[0:v]split=2[main][dup];"+
		"[main]trim=0:%.2f,setpts=PTS-STARTPTS[main2];"+
		"[dup]trim=0:%.2f,setpts=PTS-STARTPTS[first];"+
		"[main2][first]concat=n=2:v=1[out]", head, overlap)

	return p.step(ctx, "loop", p.cfg.FFmpegPath,
		"-y",
		"-i", mp4,
		"-filter_complex", filter,
		"-map", "[out]",
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-g", "30",
		"-keyint_min", "30",
		"-movflags", "+faststart",
		out,
	)
}

func (p *Pipeline) step(ctx context.Context, name, tool string, args ...string) error {
	start := time.Now()
	_, err := p.runner.Run(ctx, tool, args...)
	metrics.TranscodeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TranscodeFailures.WithLabelValues(name).Inc()
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

var slugReplacer = strings.NewReplacer("/", "_", `\`, "_", "..", "_")

func sanitize(slug string) string {
	return slugReplacer.Replace(slug)
}
