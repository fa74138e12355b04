// Package local keeps enrollment images as files under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dtroode/faceid-server/internal/model"
)

var _ model.Storage = (*Storage)(nil)

// ErrInvalidKey is returned for keys that would resolve outside the base directory.
var ErrInvalidKey = errors.New("invalid storage key")

// Storage implements model.Storage on the local filesystem.
type Storage struct {
	basePath string
}

// NewStorage creates the base directory if needed and returns a Storage rooted at it.
func NewStorage(basePath string) (*Storage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	return &Storage{basePath: absBasePath}, nil
}

// BasePath returns the absolute storage directory.
func (s *Storage) BasePath() string {
	return s.basePath
}

// Upload writes the reader to key through a temp file and rename, so a
// partially written image is never visible under key.
func (s *Storage) Upload(_ context.Context, key string, reader io.Reader) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return nil
}

func (s *Storage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes the file. A missing file is not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat file: %w", err)
}

// resolve maps a flat key to a path inside basePath.
func (s *Storage) resolve(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	fullPath := filepath.Join(s.basePath, key)
	if !strings.HasPrefix(filepath.Clean(fullPath), s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return fullPath, nil
}
