package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/dtroode/faceid-server/internal/model"
)

const jpegQuality = 90

// Normalize decodes an uploaded image in any supported format, applies its
// EXIF orientation, shrinks it to fit maxDimension and re-encodes it as JPEG.
func Normalize(data []byte, maxDimension int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidImage, err)
	}

	if maxDimension > 0 && exceeds(img.Bounds(), maxDimension) {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func exceeds(b image.Rectangle, maxDimension int) bool {
	return b.Dx() > maxDimension || b.Dy() > maxDimension
}

// Normalizing runs Normalize before delegating to the wrapped extractor.
type Normalizing struct {
	next         model.Extractor
	maxDimension int
}

func NewNormalizing(next model.Extractor, maxDimension int) *Normalizing {
	return &Normalizing{next: next, maxDimension: maxDimension}
}

func (n *Normalizing) Extract(ctx context.Context, data []byte) ([]model.Descriptor, error) {
	normalized, err := Normalize(data, n.maxDimension)
	if err != nil {
		return nil, err
	}
	return n.next.Extract(ctx, normalized)
}

// Close closes the wrapped extractor when it holds resources.
func (n *Normalizing) Close() error {
	if c, ok := n.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
