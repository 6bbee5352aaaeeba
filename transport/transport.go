// Package transport provides the multiplexed real-time channel used to talk
// to a network application endpoint.
//
// A single websocket connection carries independently addressable logical
// channels (data, control, results). Every message on the wire is a JSON
// Envelope naming its channel and event. Outbound writes are serialized
// (gorilla/websocket panics on concurrent writes); inbound traffic is read by
// one goroutine which either completes a pending request/reply call (matched
// by envelope ID) or hands the envelope to a registered handler via a bounded
// dispatch queue, so the read loop never blocks on handler work.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/pkg/buffer"
)

// Channel identifies a logical channel inside the multiplexed connection.
type Channel string

// The channel set negotiated with a network application.
const (
	ChannelData    Channel = "data"
	ChannelControl Channel = "control"
	ChannelResults Channel = "results"
)

// Wire events, matching the network application interface.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"

	EventCommand       = "command"
	EventCommandResult = "control_cmd_result"
	EventCommandError  = "control_cmd_error"

	EventImage      = "image"
	EventJSON       = "json"
	EventImageError = "image_error"
	EventJSONError  = "json_error"

	EventMessage = "message"
)

// Envelope is the wire format for all channel traffic.
type Envelope struct {
	Channel   Channel         `json:"channel"`
	Event     string          `json:"event"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes an inbound envelope. Handlers run on the dispatch
// goroutine, off the read loop; a handler that needs significant work should
// hand off to its own goroutine.
type Handler func(Envelope)

// Target identifies a reachable network application endpoint.
type Target struct {
	Host string
	Port int
}

// URL builds the websocket endpoint for the target.
func (t Target) URL() string {
	return fmt.Sprintf("ws://%s:%d/", t.Host, t.Port)
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// connectRequest is the handshake payload naming the channel set.
type connectRequest struct {
	Channels []Channel `json:"channels"`
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDispatchQueue    = 256
)

// Options configures a connection.
type Options struct {
	// HandshakeTimeout bounds the websocket dial plus the connect
	// handshake. Defaults to 10 seconds.
	HandshakeTimeout time.Duration

	// DispatchQueue bounds the inbound handler queue. Oldest events are
	// evicted when handlers fall behind. Defaults to 256.
	DispatchQueue int

	// Header is attached to the websocket upgrade request.
	Header http.Header

	// Logger used for connection lifecycle logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.DispatchQueue <= 0 {
		opts.DispatchQueue = defaultDispatchQueue
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Conn is a live multiplexed connection.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger

	handlers   map[string]Handler
	handlersMu sync.RWMutex

	// Request/reply correlation
	pending   map[string]chan Envelope
	pendingMu sync.Mutex

	inbound  buffer.Buffer[Envelope]
	notify   chan struct{}
	closed   chan struct{}
	closeErr error
	closeMu  sync.Mutex
	wg       sync.WaitGroup
}

// Dial opens the multiplexed connection to target and performs the connect
// handshake for the given channel set. It fails with ErrFailedToConnect when
// the endpoint is unreachable, rejects the handshake, or does not confirm
// within the handshake timeout.
func Dial(ctx context.Context, target Target, channels []Channel, opts *Options) (*Conn, error) {
	o := opts.withDefaults()

	dialer := &websocket.Dialer{
		HandshakeTimeout: o.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, target.URL(), o.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrFailedToConnect, err),
			"transport", "Dial", "websocket dial")
	}

	inbound, err := buffer.NewCircular[Envelope](o.DispatchQueue,
		buffer.WithOverflowPolicy[Envelope](buffer.DropOldest))
	if err != nil {
		ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:       ws,
		logger:   o.Logger,
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan Envelope),
		inbound:  inbound,
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.dispatchLoop()

	if err := c.handshake(ctx, channels, o.HandshakeTimeout); err != nil {
		c.Close()
		return nil, err
	}

	c.logger.Info("connected to network application",
		"target", target.String(), "channels", channels)
	return c, nil
}

// handshake announces the channel set and waits for the server's connect
// confirmation on the results channel.
func (c *Conn) handshake(ctx context.Context, channels []Channel, timeout time.Duration) error {
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(connectRequest{Channels: channels})
	if err != nil {
		return errors.WrapInvalid(err, "transport", "handshake", "marshal channel set")
	}

	reply, err := c.Call(hsCtx, ChannelResults, EventConnect, payload)
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrFailedToConnect, err),
			"transport", "handshake", "await connect confirmation")
	}

	if reply.Event == EventConnectError {
		return errors.WrapTransient(
			fmt.Errorf("%w: server rejected handshake: %s", errors.ErrFailedToConnect, reply.Payload),
			"transport", "handshake", "connect")
	}

	return nil
}

// Handle registers fn for inbound envelopes on the given channel and event.
// Registering a nil handler removes a previous registration.
func (c *Conn) Handle(ch Channel, event string, fn Handler) {
	key := handlerKey(ch, event)
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if fn == nil {
		delete(c.handlers, key)
		return
	}
	c.handlers[key] = fn
}

func handlerKey(ch Channel, event string) string {
	return string(ch) + "/" + event
}

// Emit sends a fire-and-forget envelope on the given channel. It returns as
// soon as the message is handed to the websocket; there is no acknowledgment.
func (c *Conn) Emit(ch Channel, event string, payload json.RawMessage) error {
	return c.write(Envelope{
		Channel:   ch,
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
}

// Call sends an envelope carrying a correlation ID and suspends the caller
// until the reply with the matching ID arrives, the connection closes, or
// ctx expires. Concurrent calls are supported; correlation is ID-based.
func (c *Conn) Call(ctx context.Context, ch Channel, event string, payload json.RawMessage) (Envelope, error) {
	select {
	case <-c.closed:
		return Envelope{}, errors.WrapTransient(errors.ErrNotConnected, "transport", "Call", "check connection")
	default:
	}

	id := uuid.NewString()
	replyCh := make(chan Envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	env := Envelope{
		Channel:   ch,
		Event:     event,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if err := c.write(env); err != nil {
		return Envelope{}, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return Envelope{}, errors.WrapTransient(
			fmt.Errorf("call %s on %s: %w", event, ch, ctx.Err()),
			"transport", "Call", "await reply")
	case <-c.closed:
		return Envelope{}, errors.WrapTransient(
			fmt.Errorf("call %s on %s abandoned: %w", event, ch, c.closeReason()),
			"transport", "Call", "await reply")
	}
}

// write marshals and transmits one envelope. Writes are serialized; gorilla
// forbids concurrent WriteMessage calls.
func (c *Conn) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "transport", "write", "marshal envelope")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return errors.WrapTransient(errors.ErrNotConnected, "transport", "write", "check connection")
	default:
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "transport", "write", "websocket write")
	}
	return nil
}

// readLoop reads envelopes until the connection dies. Pending calls are
// completed inline; everything else goes through the dispatch queue.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeWith(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("discarding malformed envelope", "error", err)
			continue
		}

		if env.ID != "" && c.completePending(env) {
			continue
		}

		if err := c.inbound.Write(env); err != nil {
			return
		}
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
}

// completePending routes an envelope to the call waiting on its ID.
func (c *Conn) completePending(env Envelope) bool {
	c.pendingMu.Lock()
	replyCh, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return false
	}

	select {
	case replyCh <- env:
	default:
	}
	return true
}

// dispatchLoop drains the inbound queue and invokes registered handlers.
func (c *Conn) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closed:
			// Drain what is already queued before exiting
			for {
				env, ok := c.inbound.Read()
				if !ok {
					return
				}
				c.dispatch(env)
			}
		case <-c.notify:
			for {
				env, ok := c.inbound.Read()
				if !ok {
					break
				}
				c.dispatch(env)
			}
		}
	}
}

func (c *Conn) dispatch(env Envelope) {
	c.handlersMu.RLock()
	fn := c.handlers[handlerKey(env.Channel, env.Event)]
	c.handlersMu.RUnlock()

	if fn == nil {
		c.logger.Debug("no handler for event", "channel", env.Channel, "event", env.Event)
		return
	}
	fn(env)
}

// closeWith records the first close reason and tears the connection down.
func (c *Conn) closeWith(reason error) {
	c.closeMu.Lock()
	select {
	case <-c.closed:
		c.closeMu.Unlock()
		return
	default:
	}
	c.closeErr = reason
	close(c.closed)
	c.closeMu.Unlock()

	c.ws.Close()
	c.inbound.Close()
}

func (c *Conn) closeReason() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return errors.ErrNotConnected
}

// Close tears the connection down. Idempotent. Outstanding Call invocations
// fail rather than hanging forever. Close waits for the read and dispatch
// goroutines to exit, so it must not be called from a Handler.
func (c *Conn) Close() error {
	c.closeWith(errors.ErrNotConnected)
	c.wg.Wait()
	return nil
}

// Closed returns a channel that is closed once the connection is gone,
// whether by Close or by a transport error.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// CloseReason reports why the connection ended. Nil while the connection is
// still up.
func (c *Conn) CloseReason() error {
	select {
	case <-c.closed:
		return c.closeReason()
	default:
		return nil
	}
}
