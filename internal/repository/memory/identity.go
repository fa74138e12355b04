// Package memory provides an in-process identity store.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dtroode/faceid-server/internal/model"
)

var _ model.IdentityStore = (*IdentityRepository)(nil)

// IdentityRepository keeps identities in a map guarded by a RWMutex.
// Scans iterate over a snapshot taken under the read lock.
type IdentityRepository struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
	dimension  int
	now        func() time.Time
}

func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{
		identities: make(map[string]model.Identity),
		now:        time.Now,
	}
}

func (r *IdentityRepository) Insert(_ context.Context, identity model.Identity) (model.Identity, error) {
	dim, err := identity.Dimension()
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", err)
	}
	if dim == 0 {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", model.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[identity.ExternalID]; ok {
		return model.Identity{}, model.ErrDuplicateIdentity
	}
	if r.dimension != 0 && r.dimension != dim {
		return model.Identity{}, model.ErrDimensionMismatch
	}

	stored := clone(identity)
	stored.CreatedAt = r.now().UTC()
	r.identities[stored.ExternalID] = stored
	if r.dimension == 0 {
		r.dimension = dim
	}

	return clone(stored), nil
}

func (r *IdentityRepository) FindByExternalID(_ context.Context, externalID string) (model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[externalID]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	return clone(identity), nil
}

func (r *IdentityRepository) List(ctx context.Context) iter.Seq2[model.Summary, error] {
	return func(yield func(model.Summary, error) bool) {
		for identity, err := range r.Scan(ctx) {
			if err != nil {
				yield(model.Summary{}, err)
				return
			}
			if !yield(identity.Summary(), nil) {
				return
			}
		}
	}
}

func (r *IdentityRepository) Scan(ctx context.Context) iter.Seq2[model.Identity, error] {
	return func(yield func(model.Identity, error) bool) {
		for _, identity := range r.snapshot() {
			if err := ctx.Err(); err != nil {
				yield(model.Identity{}, err)
				return
			}
			if !yield(identity, nil) {
				return
			}
		}
	}
}

func (r *IdentityRepository) Delete(_ context.Context, externalID string) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[externalID]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	delete(r.identities, externalID)

	return identity, nil
}

func (r *IdentityRepository) Dimension(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dimension, nil
}

// snapshot returns the identities sorted by external id. Stored values are
// never mutated in place, so sharing descriptor slices is safe.
func (r *IdentityRepository) snapshot() []model.Identity {
	r.mu.RLock()
	out := make([]model.Identity, 0, len(r.identities))
	for _, identity := range r.identities {
		out = append(out, identity)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Identity) int {
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	return out
}

func clone(identity model.Identity) model.Identity {
	descriptors := make([]model.Descriptor, len(identity.Descriptors))
	for i, d := range identity.Descriptors {
		descriptors[i] = slices.Clone(d)
	}
	identity.Descriptors = descriptors
	return identity
}
