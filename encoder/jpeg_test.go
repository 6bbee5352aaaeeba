package encoder

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kapim/era-5g-client/errors"
)

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"valid", Params{FPS: 30, Width: 640, Height: 480}, false},
		{"zero fps", Params{FPS: 0, Width: 640, Height: 480}, true},
		{"negative width", Params{FPS: 30, Width: -1, Height: 480}, true},
		{"zero height", Params{FPS: 30, Width: 640, Height: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewJPEGRejectsInvalidParams(t *testing.T) {
	_, err := NewJPEG(Params{FPS: 0, Width: 640, Height: 480})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestJPEGEncodeRoundTrip(t *testing.T) {
	params := Params{FPS: 15, Width: 64, Height: 48}
	enc, err := NewJPEG(params)
	require.NoError(t, err)
	assert.Equal(t, params, enc.Params())

	payload, err := enc.Encode(testFrame(64, 48))
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	decoded, err := jpeg.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	bounds := decoded.Bounds()
	assert.Equal(t, 64, bounds.Dx())
	assert.Equal(t, 48, bounds.Dy())
}

func TestJPEGEncodeNilFrame(t *testing.T) {
	enc, err := NewJPEG(Params{FPS: 15, Width: 64, Height: 48})
	require.NoError(t, err)

	_, err = enc.Encode(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEncoder)
	assert.True(t, errors.IsFatal(err))
}

func TestJPEGQualityOption(t *testing.T) {
	frame := testFrame(64, 48)

	low, err := NewJPEG(Params{FPS: 15, Width: 64, Height: 48}, WithQuality(10))
	require.NoError(t, err)
	high, err := NewJPEG(Params{FPS: 15, Width: 64, Height: 48}, WithQuality(95))
	require.NoError(t, err)

	lowBytes, err := low.Encode(frame)
	require.NoError(t, err)
	highBytes, err := high.Encode(frame)
	require.NoError(t, err)
	assert.Less(t, len(lowBytes), len(highBytes))
}
