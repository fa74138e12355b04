// Package artifact manages the lifecycle of uploaded images: staging on
// disk for the duration of a request, promotion to permanent storage, and
// best-effort cleanup.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
)

const (
	filePrefix = "faceid-"
	defaultExt = ".jpg"
)

// ErrReleased is returned when promoting an artifact that was already released or promoted.
var ErrReleased = errors.New("artifact already released")

// Manager stages request artifacts in a directory and promotes them into storage.
type Manager struct {
	dir     string
	storage model.Storage
	logger  *logger.Logger
}

// NewManager creates a Manager staging into dir. An empty dir selects a
// subdirectory of the OS temp dir.
func NewManager(dir string, storage model.Storage, logger *logger.Logger) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "faceid-staging")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Manager{dir: dir, storage: storage, logger: logger}, nil
}

// Dir returns the staging directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Stage writes data to a new staging file. The returned artifact must be
// released by the caller, typically with defer.
func (m *Manager) Stage(_ context.Context, data []byte, ext string) (*Artifact, error) {
	id := uuid.NewString()
	path := filepath.Join(m.dir, filePrefix+id+NormalizeExt(ext))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		m.remove(path)
		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		m.remove(path)
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	m.logger.Debug("artifact staged", "artifact_id", id, "bytes", len(data))

	return &Artifact{manager: m, id: id, path: path, data: data}, nil
}

// Discard deletes a permanent artifact. Failures are logged, never returned.
func (m *Manager) Discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.storage.Delete(ctx, key); err != nil {
		m.logger.Error("Failed to delete image from storage", "key", key, "error", err)
	}
}

// Open returns a reader for a permanent artifact.
func (m *Manager) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := m.storage.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	return rc, nil
}

// Sweep removes staging files older than maxAge, left behind by requests
// that never reached their release.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if m.remove(filepath.Join(m.dir, e.Name())) {
			removed++
		}
	}
	return removed, nil
}

func (m *Manager) remove(path string) bool {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("Failed to delete staged artifact", "path", path, "error", err)
		return false
	}
	return true
}

// Artifact is a staged image owned by a single request.
type Artifact struct {
	manager *Manager
	id      string
	path    string
	data    []byte

	mu   sync.Mutex
	done bool
}

func (a *Artifact) ID() string    { return a.id }
func (a *Artifact) Path() string  { return a.path }
func (a *Artifact) Bytes() []byte { return a.data }

// Promote uploads the artifact to permanent storage under key and drops the
// staging file. After Promote, Release is a no-op.
func (a *Artifact) Promote(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return ErrReleased
	}

	if err := a.manager.storage.Upload(ctx, key, bytes.NewReader(a.data)); err != nil {
		return fmt.Errorf("failed to promote artifact: %w", err)
	}

	a.done = true
	a.manager.remove(a.path)
	a.manager.logger.Debug("artifact promoted", "artifact_id", a.id, "key", key)

	return nil
}

// Release deletes the staging file unless the artifact was promoted. It is
// safe to call more than once.
func (a *Artifact) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return
	}
	a.done = true
	if a.manager.remove(a.path) {
		a.manager.logger.Debug("artifact released", "artifact_id", a.id)
	}
}

// NormalizeExt returns a lower-case extension with a leading dot, falling
// back to .jpg for empty or unusual input.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if len(ext) < 2 || len(ext) > 6 {
		return defaultExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExt
		}
	}
	return ext
}
