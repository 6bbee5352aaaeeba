// Package encoder turns captured frames into wire payloads for the data
// channel. Implementations are stateless per frame; the session owns one
// encoder for its lifetime.
package encoder

import (
	"fmt"
	"image"

	"github.com/Kapim/era-5g-client/errors"
)

// Params describes the stream an encoder produces.
type Params struct {
	// FPS is the nominal frame rate the sender paces at.
	FPS int
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	if p.FPS < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: fps must be at least 1, got %d", errors.ErrInvalidConfiguration, p.FPS),
			"Params", "Validate", "validate frame rate")
	}
	if p.Width < 1 || p.Height < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: dimensions must be positive, got %dx%d",
				errors.ErrInvalidConfiguration, p.Width, p.Height),
			"Params", "Validate", "validate frame dimensions")
	}
	return nil
}

// Encoder converts a single frame into its wire payload.
type Encoder interface {
	// Encode serializes one frame. A failure is fatal for the stream.
	Encode(img image.Image) ([]byte, error)

	// Params returns the stream parameters the encoder was built with.
	Params() Params
}
