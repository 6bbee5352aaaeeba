package client

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/pkg/buffer"
	"github.com/Kapim/era-5g-client/transport"
)

// outboundEntry is one payload accepted into the backpressure window.
type outboundEntry struct {
	env        transport.Envelope
	enqueuedAt time.Time
	droppable  bool
}

// imageFrame is the wire shape of one encoded frame on the data channel.
// Frame marshals as base64.
type imageFrame struct {
	Timestamp int64          `json:"timestamp"`
	Frame     []byte         `json:"frame"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SendData enqueues a payload for the data channel. It never touches the
// network on the caller path; a background drain goroutine performs the
// write. When the backpressure window is at capacity the payload is rejected
// with ErrBackPressureExceeded and nothing is stored. The droppable flag
// records the caller's intent for accounting; it does not change the
// rejection outcome.
func (c *Client) SendData(event string, payload json.RawMessage, droppable bool) error {
	if c.currentConn() == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "client", "SendData", "check session")
	}

	entry := outboundEntry{
		env: transport.Envelope{
			Channel:   transport.ChannelData,
			Event:     event,
			Timestamp: time.Now().UnixMilli(),
			Payload:   payload,
		},
		enqueuedAt: time.Now(),
		droppable:  droppable,
	}

	if err := c.outbound.Write(entry); err != nil {
		switch {
		case stderrors.Is(err, buffer.ErrFull):
			c.metrics.FramesDropped.WithLabelValues(event, strconv.FormatBool(droppable)).Inc()
			return errors.WrapTransient(
				fmt.Errorf("%w: window of %d payloads is full", errors.ErrBackPressureExceeded, c.outbound.Capacity()),
				"client", "SendData", "enqueue payload")
		case stderrors.Is(err, buffer.ErrClosed):
			return errors.WrapTransient(errors.ErrNotConnected, "client", "SendData", "enqueue payload")
		default:
			return err
		}
	}

	select {
	case c.drainNotify <- struct{}{}:
	default:
	}
	return nil
}

// SendJSON marshals v and enqueues it as a json event.
func (c *Client) SendJSON(v any, droppable bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "client", "SendJSON", "marshal payload")
	}
	return c.SendData(transport.EventJSON, payload, droppable)
}

// SendImage encodes a frame and enqueues it as an image event. Encoding
// happens on the caller, outside the backpressure window. An encoder failure
// is fatal for the stream: the session is torn down and the error surfaced.
func (c *Client) SendImage(img image.Image, timestamp int64, metadata map[string]any, droppable bool) error {
	enc := c.encoder()
	if enc == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no encoder configured", errors.ErrInvalidConfiguration),
			"client", "SendImage", "resolve encoder")
	}

	frame, err := enc.Encode(img)
	if err != nil {
		c.Disconnect()
		return err
	}

	payload, err := json.Marshal(imageFrame{
		Timestamp: timestamp,
		Frame:     frame,
		Metadata:  metadata,
	})
	if err != nil {
		return errors.WrapInvalid(err, "client", "SendImage", "marshal frame")
	}
	return c.SendData(transport.EventImage, payload, droppable)
}

// drainLoop is the single consumer of the backpressure window. Each
// successful write frees one slot. A transport write failure ends the
// session.
func (c *Client) drainLoop(conn *transport.Conn) {
	defer c.drainWG.Done()

	for {
		select {
		case <-c.drainStop:
			return
		case <-c.drainNotify:
			for {
				entry, ok := c.outbound.Read()
				if !ok {
					break
				}
				if err := conn.Emit(entry.env.Channel, entry.env.Event, entry.env.Payload); err != nil {
					c.logger.Error("data channel write failed, ending session", "error", err)
					go c.Disconnect()
					return
				}
				c.metrics.FramesSent.WithLabelValues(entry.env.Event).Inc()
			}
		}
	}
}
