package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"sync"

	"github.com/dtroode/faceid-server/internal/model"
)

// Static is a deterministic extractor for tests and local development.
// Registered images return their registered descriptors; any other image
// yields a single descriptor derived from its SHA-256 digest.
type Static struct {
	mu    sync.RWMutex
	dim   int
	faces map[string][]model.Descriptor
}

func NewStatic(dim int) *Static {
	return &Static{dim: dim, faces: make(map[string][]model.Descriptor)}
}

// Register makes Extract return descriptors for exactly this image. An empty
// descriptor list simulates an image without faces.
func (s *Static) Register(image []byte, descriptors ...model.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces[string(image)] = descriptors
}

func (s *Static) Extract(ctx context.Context, image []byte) ([]model.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	registered, ok := s.faces[string(image)]
	s.mu.RUnlock()
	if ok {
		out := make([]model.Descriptor, len(registered))
		for i, d := range registered {
			out[i] = slices.Clone(d)
		}
		return out, nil
	}

	return []model.Descriptor{s.derive(image)}, nil
}

// derive spreads the digest of image over dim values in [-0.5, 0.5).
func (s *Static) derive(image []byte) model.Descriptor {
	d := make(model.Descriptor, s.dim)
	seed := sha256.Sum256(image)
	var block [sha256.Size]byte
	for i := range d {
		if i%(sha256.Size/4) == 0 {
			var counter [8]byte
			binary.BigEndian.PutUint64(counter[:], uint64(i))
			block = sha256.Sum256(append(seed[:], counter[:]...))
		}
		off := (i % (sha256.Size / 4)) * 4
		d[i] = float32(binary.BigEndian.Uint32(block[off:]))/float32(1<<32) - 0.5
	}
	return d
}
