package render

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JPEG quality of sampled frames; they are re-encoded by the transcoder.
const sampleQuality = 85

// Frame durations below this are treated as clock noise.
const minFrameDuration = 10 * time.Millisecond

type frame struct {
	Name     string
	Duration time.Duration
}

func frameName(i int) string {
	return fmt.Sprintf("frame%05d.jpg", i)
}

// writeConcat writes an ffconcat list for frames into dir. The last entry is
// repeated without a duration so the concat demuxer honours its duration.
func writeConcat(dir string, frames []frame) (string, error) {
	path := filepath.Join(dir, "frames.ffconcat")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "ffconcat version 1.0")
	for _, fr := range frames {
		d := fr.Duration
		if d < minFrameDuration {
			d = minFrameDuration
		}
		fmt.Fprintf(w, "file '%s'\nduration %.3f\n", fr.Name, d.Seconds())
	}
	if len(frames) > 0 {
		fmt.Fprintf(w, "file '%s'\n", frames[len(frames)-1].Name)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close concat list: %w", err)
	}
	return path, nil
}

func finishRecording(dir string, frames []frame, method string, d time.Duration) (*Recording, error) {
	path, err := writeConcat(dir, frames)
	if err != nil {
		return nil, err
	}
	return &Recording{
		Dir:        dir,
		ConcatPath: path,
		Frames:     len(frames),
		Method:     method,
		Duration:   d,
	}, nil
}
