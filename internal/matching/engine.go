// Package matching implements nearest-neighbour identification of face
// descriptors against enrolled identities by exhaustive linear scan.
package matching

import (
	"context"
	"fmt"
	"iter"
	"math"

	"github.com/dtroode/faceid-server/internal/model"
)

// DefaultThreshold is the squared Euclidean acceptance threshold (0.6²).
const DefaultThreshold = 0.36

// Source yields full identity records for matching.
type Source interface {
	Scan(ctx context.Context) iter.Seq2[model.Identity, error]
}

// Engine selects the closest enrolled identity for a probe descriptor.
type Engine struct {
	threshold float64
}

// NewEngine creates an engine accepting matches whose squared distance is
// strictly below threshold.
func NewEngine(threshold float64) (*Engine, error) {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("invalid match threshold %v", threshold)
	}
	return &Engine{threshold: threshold}, nil
}

// FromEuclidean converts a Euclidean threshold into the squared form used by Engine.
func FromEuclidean(t float64) float64 {
	return t * t
}

// Threshold returns the squared acceptance threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Identify scans source and returns the best match for probe.
//
// A record's distance is the minimum over its descriptors. Records whose
// distance is NaN are never candidates. Equal distances
// resolve to the lexicographically smallest external id. A candidate is
// accepted only if its distance is strictly less than the threshold.
func (e *Engine) Identify(ctx context.Context, source Source, probe model.Descriptor) (model.Match, error) {
	var (
		best     model.Identity
		bestDist = math.Inf(1)
		found    bool
	)

	for identity, err := range source.Scan(ctx) {
		if err != nil {
			return model.Match{}, fmt.Errorf("failed to scan identities: %w", err)
		}

		dist, err := MinDistance(probe, identity.Descriptors)
		if err != nil {
			return model.Match{}, fmt.Errorf("identity %q: %w", identity.ExternalID, err)
		}
		if math.IsNaN(dist) {
			continue
		}

		if !found || dist < bestDist || (dist == bestDist && identity.ExternalID < best.ExternalID) {
			best = identity
			bestDist = dist
			found = true
		}
	}

	if !found || bestDist >= e.threshold {
		return model.Match{}, nil
	}

	return model.Match{
		Matched:  true,
		Identity: best.Summary(),
		Distance: bestDist,
	}, nil
}

// MinDistance returns the smallest squared distance between probe and any of set.
func MinDistance(probe model.Descriptor, set []model.Descriptor) (float64, error) {
	minDist := math.Inf(1)
	for _, d := range set {
		dist, err := SquaredDistance(probe, d)
		if err != nil {
			return 0, err
		}
		if dist < minDist {
			minDist = dist
		}
	}
	return minDist, nil
}

// SquaredDistance returns the sum of squared per-dimension differences.
func SquaredDistance(a, b model.Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, model.ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum, nil
}

// ResolveProbe requires exactly one finite descriptor from the extractor output.
func ResolveProbe(descriptors []model.Descriptor) (model.Descriptor, error) {
	switch len(descriptors) {
	case 0:
		return nil, model.ErrNoFaceDetected
	case 1:
		if !descriptors[0].Finite() {
			return nil, fmt.Errorf("%w: descriptor has non-finite components", model.ErrInvalidImage)
		}
		return descriptors[0], nil
	default:
		return nil, model.ErrAmbiguousProbe
	}
}
