package model

import "context"

// Extractor turns an image into zero, one or many face descriptors.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]Descriptor, error)
}
