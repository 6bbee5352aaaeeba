package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/Kapim/era-5g-client/errors"
)

// DefaultJPEGQuality matches the dense end of the jpeg package's 1..100
// scale without producing needlessly large frames.
const DefaultJPEGQuality = 90

// JPEG encodes frames as JPEG images. Payloads are raw JPEG bytes; the
// transport layer base64-wraps them when marshaling the envelope.
type JPEG struct {
	params  Params
	quality int
}

// JPEGOption configures a JPEG encoder.
type JPEGOption func(*JPEG)

// WithQuality sets the JPEG quality (1..100).
func WithQuality(quality int) JPEGOption {
	return func(j *JPEG) {
		if quality >= 1 && quality <= 100 {
			j.quality = quality
		}
	}
}

// NewJPEG creates a JPEG encoder for the given stream parameters.
func NewJPEG(params Params, opts ...JPEGOption) (*JPEG, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	j := &JPEG{
		params:  params,
		quality: DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Encode serializes one frame as JPEG.
func (j *JPEG) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.WrapFatal(errors.ErrEncoder, "JPEG", "Encode", "encode nil frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: j.quality}); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrEncoder, err),
			"JPEG", "Encode", "encode frame")
	}
	return buf.Bytes(), nil
}

// Params returns the stream parameters.
func (j *JPEG) Params() Params {
	return j.params
}
