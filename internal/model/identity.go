package model

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"
)

// Descriptor is a fixed-length face embedding produced by an Extractor.
type Descriptor []float32

// Finite reports whether every component is a finite number.
func (d Descriptor) Finite() bool {
	for _, v := range d {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// IdentityStore defines persistence operations for enrolled identities.
//
// Dimensionality of descriptors is fixed by the first successful Insert and
// stays fixed for the lifetime of the store.
type IdentityStore interface {
	Insert(ctx context.Context, identity Identity) (Identity, error)
	FindByExternalID(ctx context.Context, externalID string) (Identity, error)
	List(ctx context.Context) iter.Seq2[Summary, error]
	Scan(ctx context.Context) iter.Seq2[Identity, error]
	Delete(ctx context.Context, externalID string) (Identity, error)
	Dimension(ctx context.Context) (int, error)
}

// Identity represents an enrolled person together with its biometric template.
type Identity struct {
	ExternalID         string
	DisplayName        string
	InstitutionalEmail string
	Phone              string
	Descriptors        []Descriptor
	ImageRef           string
	CreatedAt          time.Time
}

// Summary is an identity without descriptor data.
type Summary struct {
	ExternalID         string    `json:"externalId"`
	DisplayName        string    `json:"displayName"`
	InstitutionalEmail string    `json:"institutionalEmail"`
	Phone              string    `json:"phone"`
	ImageRef           string    `json:"imageRef"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Summary strips descriptors from the identity.
func (i Identity) Summary() Summary {
	return Summary{
		ExternalID:         i.ExternalID,
		DisplayName:        i.DisplayName,
		InstitutionalEmail: i.InstitutionalEmail,
		Phone:              i.Phone,
		ImageRef:           i.ImageRef,
		CreatedAt:          i.CreatedAt,
	}
}

// Dimension returns the common length of the identity descriptors, or
// ErrDimensionMismatch if they disagree. Zero means no descriptors.
// Descriptors with NaN or infinite components fail with ErrValidation.
func (i Identity) Dimension() (int, error) {
	if len(i.Descriptors) == 0 {
		return 0, nil
	}
	dim := len(i.Descriptors[0])
	for _, d := range i.Descriptors {
		if len(d) != dim {
			return 0, ErrDimensionMismatch
		}
		if !d.Finite() {
			return 0, fmt.Errorf("%w: descriptor has non-finite components", ErrValidation)
		}
	}
	return dim, nil
}

// EnrollParams carries the fields submitted for enrollment.
type EnrollParams struct {
	ExternalID         string
	DisplayName        string
	InstitutionalEmail string
	Phone              string
	Image              []byte
	Filename           string
}

// Match is the outcome of an identification. Matched is false for NoMatch.
type Match struct {
	Matched  bool
	Identity Summary
	Distance float64
}
