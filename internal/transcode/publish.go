package transcode

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/koios/signage-sync/internal/config"
)

// Publisher installs a finished artifact set as the live output of a screen.
type Publisher interface {
	// Publish replaces liveDir's contents with the files in srcDir and
	// returns how many previously live files were removed.
	Publish(srcDir, liveDir string) (removed int, err error)
}

// NewPublisher returns the publisher for mode.
func NewPublisher(mode string) (Publisher, error) {
	switch mode {
	case config.PublishCopy, "":
		return CopyPublisher{}, nil
	case config.PublishSwap:
		return SwapPublisher{now: time.Now}, nil
	default:
		return nil, fmt.Errorf("unknown publish mode: %s", mode)
	}
}

// CopyPublisher deletes the live files and then copies the new ones in.
// Between the two steps devices can observe an empty or partial directory.
type CopyPublisher struct{}

func (CopyPublisher) Publish(srcDir, liveDir string) (int, error) {
	if err := os.MkdirAll(liveDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create live dir: %w", err)
	}

	existing, err := os.ReadDir(liveDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read live dir: %w", err)
	}
	removed := 0
	for _, e := range existing {
		if err := os.RemoveAll(filepath.Join(liveDir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}

	if err := copyFiles(srcDir, liveDir); err != nil {
		return removed, err
	}
	return removed, nil
}

// SwapPublisher keeps liveDir as a symlink to a versioned directory and
// replaces it with a single rename, so devices see either the old set or the
// new one.
type SwapPublisher struct {
	now func() time.Time
}

func (s SwapPublisher) Publish(srcDir, liveDir string) (int, error) {
	parent, base := filepath.Split(filepath.Clean(liveDir))
	versionsDir := filepath.Join(parent, "."+base+".versions")
	if err := os.MkdirAll(versionsDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create versions dir: %w", err)
	}

	stamp := strconv.FormatInt(s.now().UnixNano(), 10)
	next := filepath.Join(versionsDir, stamp)
	if err := os.Mkdir(next, 0755); err != nil {
		return 0, fmt.Errorf("failed to create version dir: %w", err)
	}
	if err := copyFiles(srcDir, next); err != nil {
		os.RemoveAll(next)
		return 0, err
	}

	// A plain directory left by copy mode is moved aside once.
	if fi, err := os.Lstat(liveDir); err == nil && fi.Mode()&os.ModeSymlink == 0 {
		if err := os.Rename(liveDir, filepath.Join(versionsDir, "legacy-"+stamp)); err != nil {
			os.RemoveAll(next)
			return 0, fmt.Errorf("failed to move legacy live dir: %w", err)
		}
	}

	link := filepath.Join(parent, "."+base+".tmp-"+stamp)
	target := filepath.Join("."+base+".versions", stamp)
	if err := os.Symlink(target, link); err != nil {
		os.RemoveAll(next)
		return 0, fmt.Errorf("failed to create symlink: %w", err)
	}
	if err := os.Rename(link, liveDir); err != nil {
		os.Remove(link)
		os.RemoveAll(next)
		return 0, fmt.Errorf("failed to swap live dir: %w", err)
	}

	return pruneVersions(versionsDir, stamp)
}

// pruneVersions removes every version except keep and counts their files.
func pruneVersions(versionsDir, keep string) (int, error) {
	entries, err := os.ReadDir(versionsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read versions dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		dir := filepath.Join(versionsDir, e.Name())
		if files, err := os.ReadDir(dir); err == nil {
			removed += len(files)
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", e.Name(), err)
		}
	}
	return removed, nil
}

func copyFiles(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", srcDir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, e.Name()), filepath.Join(dstDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
