package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/faceid-server/internal/model"
)

func newIdentity(id string, dim int) model.Identity {
	return model.Identity{
		ExternalID:         id,
		DisplayName:        "Name " + id,
		InstitutionalEmail: id + "@uni.edu",
		Phone:              "555-0100",
		Descriptors:        []model.Descriptor{make(model.Descriptor, dim)},
		ImageRef:           id + ".jpg",
	}
}

func TestIdentityRepository_Insert(t *testing.T) {
	tests := []struct {
		name     string
		existing []model.Identity
		insert   model.Identity
		wantErr  error
	}{
		{
			name:   "first insert fixes dimension",
			insert: newIdentity("A123", 128),
		},
		{
			name:     "duplicate external id",
			existing: []model.Identity{newIdentity("A123", 128)},
			insert:   newIdentity("A123", 128),
			wantErr:  model.ErrDuplicateIdentity,
		},
		{
			name:     "duplicate wins over dimension mismatch",
			existing: []model.Identity{newIdentity("A123", 128)},
			insert:   newIdentity("A123", 64),
			wantErr:  model.ErrDuplicateIdentity,
		},
		{
			name:     "dimension mismatch",
			existing: []model.Identity{newIdentity("A123", 128)},
			insert:   newIdentity("B456", 64),
			wantErr:  model.ErrDimensionMismatch,
		},
		{
			name: "mixed dimensions in one record",
			insert: model.Identity{
				ExternalID:  "C789",
				Descriptors: []model.Descriptor{{1, 2}, {1}},
			},
			wantErr: model.ErrDimensionMismatch,
		},
		{
			name: "non-finite descriptor",
			insert: model.Identity{
				ExternalID:  "E111",
				Descriptors: []model.Descriptor{{1, float32(math.NaN())}},
			},
			wantErr: model.ErrValidation,
		},
		{
			name:    "empty descriptor set",
			insert:  model.Identity{ExternalID: "D000"},
			wantErr: model.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := NewIdentityRepository()
			for _, e := range tt.existing {
				_, err := repo.Insert(ctx, e)
				require.NoError(t, err)
			}

			got, err := repo.Insert(ctx, tt.insert)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, len(tt.existing), count(t, repo))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.insert.ExternalID, got.ExternalID)
			assert.False(t, got.CreatedAt.IsZero())

			dim, err := repo.Dimension(ctx)
			require.NoError(t, err)
			assert.Equal(t, len(tt.insert.Descriptors[0]), dim)
		})
	}
}

func TestIdentityRepository_DimensionSurvivesDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository()

	_, err := repo.Insert(ctx, newIdentity("A123", 4))
	require.NoError(t, err)
	_, err = repo.Delete(ctx, "A123")
	require.NoError(t, err)

	_, err = repo.Insert(ctx, newIdentity("B456", 8))
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestIdentityRepository_FindAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository()
	_, err := repo.Insert(ctx, newIdentity("A123", 4))
	require.NoError(t, err)

	found, err := repo.FindByExternalID(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, "A123.jpg", found.ImageRef)

	found.Descriptors[0][0] = 42
	again, err := repo.FindByExternalID(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, float32(0), again.Descriptors[0][0])

	deleted, err := repo.Delete(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, "A123.jpg", deleted.ImageRef)

	_, err = repo.FindByExternalID(ctx, "A123")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.Delete(ctx, "A123")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestIdentityRepository_ListIsOrderedAndRestartable(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository()
	for _, id := range []string{"C", "A", "B"} {
		_, err := repo.Insert(ctx, newIdentity(id, 2))
		require.NoError(t, err)
	}

	seq := repo.List(ctx)
	for range 2 {
		var ids []string
		for s, err := range seq {
			require.NoError(t, err)
			ids = append(ids, s.ExternalID)
		}
		assert.Equal(t, []string{"A", "B", "C"}, ids)
	}
}

func TestIdentityRepository_ScanSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository()
	_, err := repo.Insert(ctx, newIdentity("A", 2))
	require.NoError(t, err)

	var seen []string
	for identity, err := range repo.Scan(ctx) {
		require.NoError(t, err)
		seen = append(seen, identity.ExternalID)
		_, err := repo.Insert(ctx, newIdentity("B", 2))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"A"}, seen)
	assert.Equal(t, 2, count(t, repo))
}

func TestIdentityRepository_ScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := NewIdentityRepository()
	_, err := repo.Insert(ctx, newIdentity("A", 2))
	require.NoError(t, err)
	cancel()

	for _, err := range repo.Scan(ctx) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestIdentityRepository_ConcurrentDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		dupes     atomic.Int32
	)
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := newIdentity("A123", 4)
			identity.DisplayName = fmt.Sprintf("attempt %d", i)
			_, err := repo.Insert(ctx, identity)
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, model.ErrDuplicateIdentity):
				dupes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(31), dupes.Load())
	assert.Equal(t, 1, count(t, repo))
}

func count(t *testing.T, repo *IdentityRepository) int {
	t.Helper()
	n := 0
	for _, err := range repo.List(context.Background()) {
		require.NoError(t, err)
		n++
	}
	return n
}
