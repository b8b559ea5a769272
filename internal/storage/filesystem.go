package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore keeps artifacts under a root directory, typically one a
// web server or CDN origin serves directly.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates the root if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileSystemStore{root: filepath.Clean(root)}, nil
}

func (f *FileSystemStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact key: %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

// Put writes body to a temp file next to the target and renames it into
// place so readers never observe a partial image.
func (f *FileSystemStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to install %s: %w", key, err)
	}
	return nil
}

// List walks only the directory holding prefix, so listing one screen's
// slides does not scan the rest of the root.
func (f *FileSystemStore) List(ctx context.Context, prefix string) ([]string, error) {
	start := f.root
	if dir := prefix[:strings.LastIndex(prefix, "/")+1]; dir != "" {
		p, err := f.path(dir)
		if err != nil {
			return nil, err
		}
		start = p
	}
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if d.IsDir() {
			if p != start && !strings.HasPrefix(key+"/", prefix) && !strings.HasPrefix(prefix, key+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

func (f *FileSystemStore) DeletePrefixExcept(ctx context.Context, prefix string, keep map[string]bool) (int, error) {
	keys, err := f.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if keep[key] || !isSlideImage(key) {
			continue
		}
		p, err := f.path(key)
		if err != nil {
			return deleted, err
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		deleted++
		f.pruneEmptyDirs(filepath.Dir(p))
	}
	return deleted, nil
}

// pruneEmptyDirs removes now-empty version directories up to the root.
func (f *FileSystemStore) pruneEmptyDirs(dir string) {
	for dir != f.root && strings.HasPrefix(dir, f.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
