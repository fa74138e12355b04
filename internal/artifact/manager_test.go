package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/faceid-server/internal/testutil"
)

// MockStorage mocks the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

func (m *MockStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func newManager(t *testing.T, storage *MockStorage) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), storage, testutil.MakeNoopLogger())
	require.NoError(t, err)
	return m
}

func stagedFiles(t *testing.T, m *Manager) []string {
	t.Helper()
	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestManager_StageAndRelease(t *testing.T) {
	m := newManager(t, &MockStorage{})

	a, err := m.Stage(context.Background(), []byte("img"), "PNG")
	require.NoError(t, err)

	assert.Equal(t, ".png", filepath.Ext(a.Path()))
	assert.Equal(t, []byte("img"), a.Bytes())
	assert.NotEmpty(t, a.ID())

	onDisk, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), onDisk)

	a.Release()
	a.Release()

	assert.Empty(t, stagedFiles(t, m))
}

func TestArtifact_Promote(t *testing.T) {
	ctx := context.Background()

	t.Run("success removes staging file", func(t *testing.T) {
		storage := &MockStorage{}
		storage.On("Upload", ctx, "A123.jpg", mock.Anything).Return(nil).Once()
		m := newManager(t, storage)

		a, err := m.Stage(ctx, []byte("img"), ".jpg")
		require.NoError(t, err)
		defer a.Release()

		require.NoError(t, a.Promote(ctx, "A123.jpg"))
		assert.Empty(t, stagedFiles(t, m))
		assert.ErrorIs(t, a.Promote(ctx, "A123.jpg"), ErrReleased)
		storage.AssertExpectations(t)
	})

	t.Run("failure keeps artifact releasable", func(t *testing.T) {
		storage := &MockStorage{}
		storage.On("Upload", ctx, "A123.jpg", mock.Anything).Return(errors.New("disk full")).Once()
		m := newManager(t, storage)

		a, err := m.Stage(ctx, []byte("img"), ".jpg")
		require.NoError(t, err)

		err = a.Promote(ctx, "A123.jpg")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to promote artifact")
		assert.Len(t, stagedFiles(t, m), 1)

		a.Release()
		assert.Empty(t, stagedFiles(t, m))
	})

	t.Run("released artifact cannot be promoted", func(t *testing.T) {
		m := newManager(t, &MockStorage{})
		a, err := m.Stage(ctx, []byte("img"), ".jpg")
		require.NoError(t, err)

		a.Release()
		assert.ErrorIs(t, a.Promote(ctx, "A123.jpg"), ErrReleased)
	})
}

func TestManager_DiscardLogsFailure(t *testing.T) {
	ctx := context.Background()
	log, buf := testutil.MakeBufferLogger()

	storage := &MockStorage{}
	storage.On("Delete", ctx, "A123.jpg").Return(errors.New("permission denied")).Once()

	m, err := NewManager(t.TempDir(), storage, log)
	require.NoError(t, err)

	assert.NotPanics(t, func() { m.Discard(ctx, "A123.jpg") })
	assert.Contains(t, buf.String(), "Failed to delete image from storage")
	storage.AssertExpectations(t)

	m.Discard(ctx, "")
	storage.AssertNumberOfCalls(t, "Delete", 1)
}

func TestManager_Sweep(t *testing.T) {
	m := newManager(t, &MockStorage{})
	ctx := context.Background()

	stale, err := m.Stage(ctx, []byte("old"), ".jpg")
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Path(), old, old))

	fresh, err := m.Stage(ctx, []byte("new"), ".jpg")
	require.NoError(t, err)
	defer fresh.Release()

	unrelated := filepath.Join(m.Dir(), "keep.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	removed, err := m.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale.Path())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path())
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestNormalizeExt(t *testing.T) {
	tests := map[string]string{
		"":            ".jpg",
		".JPG":        ".jpg",
		"png":         ".png",
		".webp":       ".webp",
		".":           ".jpg",
		".toolongext": ".jpg",
		".j/g":        ".jpg",
		".jp g":       ".jpg",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeExt(in))
		})
	}
}
