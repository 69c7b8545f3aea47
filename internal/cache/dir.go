package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir is a Store keeping one file per key in a directory.
// File names are derived from the key, so the same key always maps to the same file.
type Dir struct {
	dir string
}

// NewDir creates dir if needed and returns a Store rooted there.
func NewDir(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to os.MkdirAll: %w", err)
	}

	return &Dir{dir: dir}, nil
}

// Path returns the file that holds the value of key.
func (d *Dir) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:]))
}

// Get returns the value stored under key, and false when there is none.
func (d *Dir) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		recordGet(ctx, key, false)
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to os.ReadFile: %w", err)
	}

	recordGet(ctx, key, true)
	return data, true, nil
}

// Put stores data under key. The file is written to a temporary name and renamed,
// so readers never observe a partial value.
func (d *Dir) Put(_ context.Context, key string, data []byte) error {
	f, err := os.CreateTemp(d.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to os.CreateTemp: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmp, d.Path(key)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to os.Rename: %w", err)
	}

	return nil
}
