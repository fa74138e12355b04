// Package extractor adapts face embedding models to model.Extractor.
package extractor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dtroode/faceid-server/internal/model"
)

var _ model.Extractor = (*Shared)(nil)

// Loader builds an extractor, typically by loading model weights or waiting
// for a remote service to come up.
type Loader func(ctx context.Context) (model.Extractor, error)

// Shared initializes an extractor once in the background. Extract calls block
// until initialization finishes, so no request runs against a partially
// loaded model.
type Shared struct {
	once  sync.Once
	ready chan struct{}
	ext   model.Extractor
	err   error
}

func NewShared() *Shared {
	return &Shared{ready: make(chan struct{})}
}

// Start runs load in a new goroutine. Calls after the first are ignored.
func (s *Shared) Start(ctx context.Context, load Loader) {
	s.once.Do(func() {
		go func() {
			defer close(s.ready)
			s.ext, s.err = load(ctx)
			if s.err == nil && s.ext == nil {
				s.err = fmt.Errorf("loader returned no extractor")
			}
		}()
	})
}

// Wait blocks until initialization finishes or ctx is done.
func (s *Shared) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		if s.err != nil {
			return fmt.Errorf("%w: %w", model.ErrExtractorUnavailable, s.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether initialization completed successfully.
func (s *Shared) Ready() bool {
	select {
	case <-s.ready:
		return s.err == nil
	default:
		return false
	}
}

func (s *Shared) Extract(ctx context.Context, image []byte) ([]model.Descriptor, error) {
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.ext.Extract(ctx, image)
}

// Close releases the underlying extractor if it holds resources.
func (s *Shared) Close() error {
	if !s.Ready() {
		return nil
	}
	if c, ok := s.ext.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
