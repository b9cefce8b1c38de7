// Package archive holds the audit archive backends.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalDir keeps archived batches as files below a base directory.
type LocalDir struct {
	BaseDir   string
	PublicURL string
}

// NewLocalDir creates baseDir when missing.
func NewLocalDir(baseDir, publicURL string) (*LocalDir, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalDir{BaseDir: baseDir, PublicURL: strings.TrimSuffix(publicURL, "/")}, nil
}

// pathOf maps a slash separated key to a file below BaseDir and rejects keys escaping it.
func (d *LocalDir) pathOf(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return filepath.Join(d.BaseDir, clean), nil
}

func (d *LocalDir) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	fullPath, err := d.pathOf(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	// Write to a temp file first so a reader never sees a partial batch.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write archive content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move archive file in place: %w", err)
	}
	return nil
}

func (d *LocalDir) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := d.pathOf(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

func (d *LocalDir) Location(ctx context.Context, key string) (string, error) {
	if d.PublicURL == "" {
		return d.pathOf(key)
	}
	return fmt.Sprintf("%s/%s", d.PublicURL, key), nil
}
