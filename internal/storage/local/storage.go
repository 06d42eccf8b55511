package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage writes artifacts of local jobs to a directory.
type Storage struct {
	dir string
}

// NewStorage creates the output directory if needed.
func NewStorage(dir string) (*Storage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	return &Storage{dir: abs}, nil
}

// Save writes src to dir/subdir/filename and returns the file path.
func (s *Storage) Save(_ context.Context, subdir, filename string, src io.Reader, _ int64, _ string) (string, error) {
	dir := filepath.Join(s.dir, filepath.Clean("/"+subdir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dir: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(filename))

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return dst, f.Close()
}
