package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateIdentity    = errors.New("identifier already registered")
	ErrDimensionMismatch    = errors.New("descriptor dimension mismatch")
	ErrNoFaceDetected       = errors.New("no face detected")
	ErrAmbiguousProbe       = errors.New("multiple faces detected")
	ErrInvalidImage         = errors.New("invalid image")
	ErrStoreUnavailable     = errors.New("identity store unavailable")
	ErrExtractorUnavailable = errors.New("descriptor extractor unavailable")
	ErrInvalidCredentials   = errors.New("invalid credentials")
)

// ValidationError lists the input fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
