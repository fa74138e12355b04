//go:build dlib

// Package dlib runs the dlib ResNet face model in process through go-face.
// It needs libdlib and is only built with the dlib tag.
package dlib

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/dtroode/faceid-server/internal/model"
)

var _ model.Extractor = (*Recognizer)(nil)

// Recognizer wraps a loaded go-face recognizer. go-face is not safe for
// concurrent use, so calls are serialized.
type Recognizer struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// Load reads the model files from modelDir.
func Load(_ context.Context, modelDir string) (*Recognizer, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models: %w", err)
	}
	return &Recognizer{rec: rec}, nil
}

// Extract expects a JPEG image and returns one 128-dimension descriptor per face.
func (r *Recognizer) Extract(_ context.Context, image []byte) ([]model.Descriptor, error) {
	r.mu.Lock()
	faces, err := r.rec.Recognize(image)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidImage, err)
	}

	out := make([]model.Descriptor, len(faces))
	for i, f := range faces {
		d := make(model.Descriptor, len(f.Descriptor))
		copy(d, f.Descriptor[:])
		out[i] = d
	}
	return out, nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	return nil
}
