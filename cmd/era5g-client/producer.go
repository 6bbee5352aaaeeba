package main

import (
	"context"
	stderrors "errors"
	"image"
	"image/color"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Kapim/era-5g-client/client"
	"github.com/Kapim/era-5g-client/errors"
)

// frameProducer feeds synthetic frames to the session at a fixed rate. It
// stands in for a camera: frames are droppable, and a frame rejected by the
// backpressure window is skipped rather than retried.
type frameProducer struct {
	session *client.Client
	fps     int
	width   int
	height  int
	logger  *slog.Logger
}

func (p *frameProducer) run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(p.fps), 1)

	var seq uint64
	for {
		if err := limiter.Wait(ctx); err != nil {
			if stderrors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		seq++
		frame := p.renderFrame(seq)
		err := p.session.SendImage(frame, time.Now().UnixMilli(),
			map[string]any{"seq": seq}, true)
		switch {
		case err == nil:
		case stderrors.Is(err, errors.ErrBackPressureExceeded):
			p.logger.Debug("frame skipped, window full", "seq", seq)
		case stderrors.Is(err, errors.ErrNotConnected):
			p.logger.Info("session gone, stopping producer")
			return nil
		default:
			return err
		}
	}
}

// renderFrame draws a moving gradient so consecutive frames differ.
func (p *frameProducer) renderFrame(seq uint64) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	shift := uint8(seq % 256)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x%256) + shift,
				G: uint8(y % 256),
				B: shift,
				A: 255,
			})
		}
	}
	return img
}
