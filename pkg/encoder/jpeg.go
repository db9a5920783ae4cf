package encoder

import (
	"fmt"

	"github.com/gtfodev/rtspd/pkg/camera"
)

// JPEGEncoder is the external, synchronous YUV->JPEG function from
// spec.md §1/§2: "a one-shot JPEG encoder function" taking a quality
// parameter. This server treats it as a named collaborator.
type JPEGEncoder interface {
	EncodeJPEG(frame *camera.RawFrame, quality int) ([]byte, error)
}

// JPEGAdapter wraps a JPEGEncoder with the quality clamp spec.md §8
// requires (10..100) so callers never hand the external encoder an
// out-of-range value.
type JPEGAdapter struct {
	enc JPEGEncoder
}

// NewJPEGAdapter wraps a JPEGEncoder.
func NewJPEGAdapter(enc JPEGEncoder) *JPEGAdapter {
	return &JPEGAdapter{enc: enc}
}

// Encode clamps quality and delegates to the external encoder.
func (a *JPEGAdapter) Encode(frame *camera.RawFrame, quality int) ([]byte, error) {
	if quality < 10 {
		quality = 10
	}
	if quality > 100 {
		quality = 100
	}
	jpeg, err := a.enc.EncodeJPEG(frame, quality)
	if err != nil {
		return nil, fmt.Errorf("encode JPEG: %w", err)
	}
	return jpeg, nil
}
