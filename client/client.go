// Package client implements a session against a remote network application:
// registration over the multiplexed channel, the synchronous control command
// protocol, and a backpressure-bounded data sender. Sessions are optionally
// brokered by an orchestration middleware which deploys the application and
// reports its address.
package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kapim/era-5g-client/encoder"
	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/metric"
	"github.com/Kapim/era-5g-client/middleware"
	"github.com/Kapim/era-5g-client/pkg/buffer"
	"github.com/Kapim/era-5g-client/pkg/retry"
	"github.com/Kapim/era-5g-client/transport"
)

const (
	// DefaultBackpressureCapacity bounds the number of unacknowledged data
	// payloads in flight.
	DefaultBackpressureCapacity = 5

	// reconnectInterval paces the wait-until-available connect loop.
	reconnectInterval = 1 * time.Second

	// planCleanupTimeout bounds the plan deletion call during Disconnect.
	planCleanupTimeout = 5 * time.Second
)

// sessionChannels is the channel set announced during the handshake.
var sessionChannels = []transport.Channel{
	transport.ChannelData,
	transport.ChannelControl,
	transport.ChannelResults,
}

// Client is a session with a network application. A Client serves one
// session; create a new one to reconnect after Disconnect.
type Client struct {
	handler  EventHandler
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	mw       *middleware.Client
	capacity int

	mu             sync.Mutex
	enc            encoder.Encoder
	conn           *transport.Conn
	checker        *middleware.ResourceChecker
	planID         string
	registerCancel context.CancelFunc
	closed         bool

	outbound    buffer.Buffer[outboundEntry]
	drainNotify chan struct{}
	drainStop   chan struct{}
	drainWG     sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithBackpressureCapacity sets the data channel window size. Defaults to
// DefaultBackpressureCapacity; values below 1 fail construction.
func WithBackpressureCapacity(capacity int) Option {
	return func(c *Client) { c.capacity = capacity }
}

// WithMetricsRegistry sets the metrics registry. Defaults to a fresh one.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(c *Client) {
		if registry != nil {
			c.registry = registry
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMiddleware sets the orchestration middleware client used by
// RegisterWithMiddleware and RunTask.
func WithMiddleware(mw *middleware.Client) Option {
	return func(c *Client) { c.mw = mw }
}

// WithEncoder sets the frame encoder. Without one, Register builds a JPEG
// encoder from the registration args when they carry stream parameters.
func WithEncoder(enc encoder.Encoder) Option {
	return func(c *Client) { c.enc = enc }
}

// New creates a Client. Configuration is validated here, before any I/O; an
// unusable backpressure capacity fails with ErrInvalidConfiguration.
func New(handler EventHandler, opts ...Option) (*Client, error) {
	c := &Client{
		handler:     handler,
		logger:      slog.Default(),
		capacity:    DefaultBackpressureCapacity,
		drainNotify: make(chan struct{}, 1),
		drainStop:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = BaseHandler{}
	}
	if c.registry == nil {
		c.registry = metric.NewMetricsRegistry()
	}
	c.metrics = c.registry.CoreMetrics()

	outbound, err := buffer.NewCircular[outboundEntry](c.capacity,
		buffer.WithOverflowPolicy[outboundEntry](buffer.Reject),
		buffer.WithMetrics[outboundEntry](c.registry, "outbound"))
	if err != nil {
		return nil, err
	}
	c.outbound = outbound

	return c, nil
}

// Register connects to the network application at target and performs the
// session handshake. With waitUntilAvailable, connect failures are retried
// every second until the peer answers; a positive waitTimeout bounds the
// whole wait and expiry surfaces as ErrFailedToConnect, a non-positive one
// waits indefinitely. Without waitUntilAvailable the first failure is final.
// On success exactly one state-setting control command carrying args is sent
// before the data sender starts.
func (c *Client) Register(ctx context.Context, target transport.Target, args map[string]any, waitUntilAvailable bool, waitTimeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.WrapTransient(errors.ErrNotConnected, "client", "Register", "check session")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "client", "Register", "check session")
	}
	if c.enc == nil {
		if enc, err := encoderFromArgs(args); err != nil {
			c.mu.Unlock()
			return err
		} else if enc != nil {
			c.enc = enc
		}
	}
	c.mu.Unlock()

	var regCtx context.Context
	var cancel context.CancelFunc
	if waitUntilAvailable && waitTimeout > 0 {
		regCtx, cancel = context.WithTimeout(ctx, waitTimeout)
	} else {
		regCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	c.mu.Lock()
	if c.closed {
		// Disconnect won the race before the cancel hook was installed
		c.mu.Unlock()
		return errors.WrapTransient(errors.ErrNotConnected, "client", "Register", "check session")
	}
	c.registerCancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.registerCancel = nil
		c.mu.Unlock()
	}()

	cfg := retry.Fixed(reconnectInterval)
	if !waitUntilAvailable {
		cfg.MaxAttempts = 1
	}

	c.metrics.SessionStatus.Set(metric.SessionConnecting)

	var conn *transport.Conn
	err := retry.Do(regCtx, cfg, func() error {
		c.metrics.ConnectAttempts.Inc()
		dialed, err := transport.Dial(regCtx, target, sessionChannels, &transport.Options{
			Logger: c.logger,
		})
		if err != nil {
			if waitUntilAvailable {
				c.logger.Info("network application not available yet, retrying",
					"target", target.String(), "error", err)
			}
			return err
		}
		conn = dialed
		return nil
	})
	if err != nil {
		c.metrics.SessionStatus.Set(metric.SessionDisconnected)
		if !stderrors.Is(err, errors.ErrFailedToConnect) {
			err = fmt.Errorf("%w: %w", errors.ErrFailedToConnect, err)
		}
		return errors.WrapTransient(err, "client", "Register", "connect to network application")
	}

	c.wireHandlers(conn)

	if err := c.publishSession(conn); err != nil {
		c.metrics.SessionStatus.Set(metric.SessionDisconnected)
		return err
	}

	if err := c.sendInitialState(ctx, args); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.metrics.SessionStatus.Set(metric.SessionDisconnected)
		return err
	}

	c.drainWG.Add(1)
	go c.drainLoop(conn)
	go c.watchConn(conn)

	c.metrics.SessionStatus.Set(metric.SessionConnected)
	c.logger.Info("session registered", "target", target.String())
	return nil
}

// publishSession installs the dialed connection as the live session.
// Disconnect may have completed while the connect loop was running; in that
// case the connection is closed instead of installed, so a racing Register
// can never resurrect a torn-down client.
func (c *Client) publishSession(conn *transport.Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errors.WrapTransient(errors.ErrNotConnected, "client", "Register", "publish session")
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// sendInitialState pushes the session's starting state to the application,
// clearing any queued work from an earlier session.
func (c *Client) sendInitialState(ctx context.Context, args map[string]any) error {
	_, err := c.CallControlCommand(ctx, ControlCommand{
		Type:       CommandSetState,
		ClearQueue: true,
		Data:       args,
	})
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: initial state rejected: %w", errors.ErrFailedToConnect, err),
			"client", "Register", "send initial state")
	}
	return nil
}

// wireHandlers routes inbound channel traffic to the event handler.
func (c *Client) wireHandlers(conn *transport.Conn) {
	conn.Handle(transport.ChannelResults, transport.EventMessage, func(env transport.Envelope) {
		c.metrics.ResultsReceived.Inc()
		c.handler.OnResults(env.Payload)
	})
	conn.Handle(transport.ChannelData, transport.EventImageError, func(env transport.Envelope) {
		c.handler.OnImageError(env.Payload)
	})
	conn.Handle(transport.ChannelData, transport.EventJSONError, func(env transport.Envelope) {
		c.handler.OnJSONError(env.Payload)
	})
	conn.Handle(transport.ChannelControl, transport.EventCommandResult, func(env transport.Envelope) {
		c.handler.OnControlResult(env.Payload)
	})
	conn.Handle(transport.ChannelControl, transport.EventCommandError, func(env transport.Envelope) {
		c.handler.OnControlError(env.Payload)
	})
}

// watchConn ends the session when the transport dies underneath it.
func (c *Client) watchConn(conn *transport.Conn) {
	select {
	case <-conn.Closed():
		if reason := conn.CloseReason(); !stderrors.Is(reason, errors.ErrNotConnected) {
			c.logger.Warn("connection lost", "reason", reason)
		}
		c.Disconnect()
	case <-c.done:
	}
}

// RegisterWithMiddleware logs into the orchestration middleware, requests a
// deployment plan for taskID, and starts polling the plan's readiness. It
// does not connect; call RunTask to wait for the resource and register.
func (c *Client) RegisterWithMiddleware(ctx context.Context, taskID string, resourceLock bool) error {
	if c.mw == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no middleware client configured", errors.ErrInvalidConfiguration),
			"client", "RegisterWithMiddleware", "resolve middleware")
	}

	if err := c.mw.Login(ctx); err != nil {
		return err
	}

	plan, err := c.mw.RequestPlan(ctx, taskID, resourceLock)
	if err != nil {
		return err
	}

	checker := middleware.NewResourceChecker(c.mw, plan.ID,
		middleware.WithCheckerLogger(c.logger))
	checker.Start()

	c.mu.Lock()
	c.planID = plan.ID
	c.checker = checker
	c.mu.Unlock()

	c.logger.Info("deployment plan acquired", "plan_id", plan.ID, "services", plan.Services)
	return nil
}

// RunTask waits until the orchestrated resource reports Active and registers
// against its address. A positive waitTimeout bounds both the readiness wait
// and the connect loop.
func (c *Client) RunTask(ctx context.Context, args map[string]any, waitTimeout time.Duration) error {
	c.mu.Lock()
	checker := c.checker
	c.mu.Unlock()
	if checker == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no deployment plan, call RegisterWithMiddleware first", errors.ErrInvalidConfiguration),
			"client", "RunTask", "resolve plan")
	}

	waitCtx := ctx
	if waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	target, err := checker.WaitUntilReady(waitCtx)
	if err != nil {
		return err
	}

	return c.Register(ctx, target, args, true, waitTimeout)
}

// CallControlCommand sends cmd on the control channel and blocks until the
// matched response arrives, the connection ends, or ctx expires. Every
// failure mode surfaces as ErrControlCommand.
func (c *Client) CallControlCommand(ctx context.Context, cmd ControlCommand) (json.RawMessage, error) {
	conn := c.currentConn()
	if conn == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrControlCommand, errors.ErrNotConnected),
			"client", "CallControlCommand", "check session")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.WrapInvalid(err, "client", "CallControlCommand", "marshal command")
	}

	start := time.Now()
	reply, err := conn.Call(ctx, transport.ChannelControl, transport.EventCommand, payload)
	c.metrics.ControlDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.ControlCalls.WithLabelValues(string(cmd.Type), "error").Inc()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrControlCommand, err),
			"client", "CallControlCommand", "await response")
	}

	if reply.Event == transport.EventCommandError {
		c.metrics.ControlCalls.WithLabelValues(string(cmd.Type), "rejected").Inc()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: application rejected %s: %s", errors.ErrControlCommand, cmd.Type, reply.Payload),
			"client", "CallControlCommand", "execute command")
	}

	c.metrics.ControlCalls.WithLabelValues(string(cmd.Type), "ok").Inc()
	return reply.Payload, nil
}

// Disconnect ends the session: the readiness poller stops, the transport
// closes (failing any in-flight control calls), the data sender drains out,
// and an acquired plan is deleted from the middleware. Idempotent, and safe
// concurrently with an in-flight Register wait loop, which it aborts.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel := c.registerCancel
		conn := c.conn
		checker := c.checker
		planID := c.planID
		c.conn = nil
		c.checker = nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if checker != nil {
			checker.Stop()
		}
		if conn != nil {
			conn.Close()
		}

		close(c.drainStop)
		c.drainWG.Wait()
		if pending := c.outbound.Size(); pending > 0 {
			c.logger.Warn("discarding undelivered payloads", "count", pending)
		}
		c.outbound.Close()

		if planID != "" && c.mw != nil {
			ctx, cancelDelete := context.WithTimeout(context.Background(), planCleanupTimeout)
			defer cancelDelete()
			if err := c.mw.DeletePlan(ctx, planID); err != nil {
				c.logger.Warn("plan deletion failed", "plan_id", planID, "error", err)
			}
		}

		c.metrics.SessionStatus.Set(metric.SessionDisconnected)
		close(c.done)
		c.logger.Info("session ended")
	})
}

// Wait blocks until the session ends, whether by Disconnect or by a
// transport failure.
func (c *Client) Wait() {
	<-c.done
}

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	return c.currentConn() != nil
}

func (c *Client) currentConn() *transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) encoder() encoder.Encoder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc
}

// encoderFromArgs builds a JPEG encoder when the registration args carry
// stream parameters. Returns nil without error when they do not.
func encoderFromArgs(args map[string]any) (encoder.Encoder, error) {
	fps, okFPS := intArg(args, "fps")
	width, okW := intArg(args, "width")
	height, okH := intArg(args, "height")
	if !okFPS || !okW || !okH {
		return nil, nil
	}
	return encoder.NewJPEG(encoder.Params{FPS: fps, Width: width, Height: height})
}

// intArg reads an integer value from registration args, tolerating the
// float64 that JSON decoding produces.
func intArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
