package middleware

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/transport"
)

// ResourceState is the readiness of an orchestrated resource.
type ResourceState int

const (
	// ResourcePending means no service has reported Active yet.
	ResourcePending ResourceState = iota
	// ResourceActive means a service reported Active with a usable
	// address; polling has stopped and the address is captured.
	ResourceActive
	// ResourceFailed means the plan is gone or the middleware became
	// unreachable; polling has stopped.
	ResourceFailed
)

// String returns the string representation of ResourceState.
func (s ResourceState) String() string {
	switch s {
	case ResourcePending:
		return "pending"
	case ResourceActive:
		return "active"
	case ResourceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultNetAppPort is the network application port assumed when the
// orchestrated service URL does not carry one.
const DefaultNetAppPort = 5896

const defaultPollInterval = 1 * time.Second

// ResourceChecker polls the middleware for a plan's readiness on a fixed
// interval. One background goroutine serves any number of waiters; all of
// them observe the same terminal state.
type ResourceChecker struct {
	client      *Client
	planID      string
	interval    time.Duration
	defaultPort int
	logger      *slog.Logger

	mu     sync.Mutex
	state  ResourceState
	target transport.Target
	err    error

	ready    chan struct{} // closed on terminal state
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool

	// pollCtx parents every status query so Stop aborts an in-flight poll
	// instead of waiting out its timeout.
	pollCtx    context.Context
	pollCancel context.CancelFunc
}

// CheckerOption configures a ResourceChecker.
type CheckerOption func(*ResourceChecker)

// WithPollInterval sets the polling interval. Defaults to one second.
func WithPollInterval(interval time.Duration) CheckerOption {
	return func(rc *ResourceChecker) {
		if interval > 0 {
			rc.interval = interval
		}
	}
}

// WithDefaultPort sets the port assumed when the service URL carries none.
func WithDefaultPort(port int) CheckerOption {
	return func(rc *ResourceChecker) {
		if port > 0 {
			rc.defaultPort = port
		}
	}
}

// WithCheckerLogger sets the logger.
func WithCheckerLogger(logger *slog.Logger) CheckerOption {
	return func(rc *ResourceChecker) { rc.logger = logger }
}

// NewResourceChecker creates a checker for the given plan. Call Start to
// begin polling.
func NewResourceChecker(client *Client, planID string, opts ...CheckerOption) *ResourceChecker {
	rc := &ResourceChecker{
		client:      client,
		planID:      planID,
		interval:    defaultPollInterval,
		defaultPort: DefaultNetAppPort,
		logger:      slog.Default(),
		ready:       make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	rc.pollCtx, rc.pollCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Start launches the polling goroutine. Starting twice is a no-op.
func (rc *ResourceChecker) Start() {
	rc.mu.Lock()
	if rc.started {
		rc.mu.Unlock()
		return
	}
	rc.started = true
	rc.mu.Unlock()

	go rc.run()
}

// run drives the poll loop. The first poll happens immediately; polling
// stops on the first terminal state.
func (rc *ResourceChecker) run() {
	defer close(rc.done)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		if terminal := rc.poll(); terminal {
			return
		}

		select {
		case <-rc.stop:
			return
		case <-ticker.C:
		}
	}
}

// poll performs one status query and advances the state machine. Returns
// true once a terminal state is reached.
func (rc *ResourceChecker) poll() bool {
	ctx, cancel := context.WithTimeout(rc.pollCtx, rc.interval*10)
	defer cancel()

	statuses, err := rc.client.PlanStatus(ctx, rc.planID)
	if err != nil {
		if rc.pollCtx.Err() != nil {
			// Stopped mid-poll
			return true
		}
		if stderrors.Is(err, errors.ErrPlanGone) || stderrors.Is(err, errors.ErrOrchestrationUnavailable) {
			rc.fail(err)
			return true
		}
		// Transient poll failure, stay Pending and try again
		rc.logger.Warn("plan status poll failed", "plan_id", rc.planID, "error", err)
		return false
	}

	for _, svc := range statuses {
		if !svc.Active() {
			continue
		}
		target, err := parseServiceURL(svc.URL, rc.defaultPort)
		if err != nil {
			rc.logger.Warn("service reported active with unusable address",
				"plan_id", rc.planID, "url", svc.URL, "error", err)
			continue
		}
		rc.activate(target)
		return true
	}

	return false
}

func (rc *ResourceChecker) activate(target transport.Target) {
	rc.mu.Lock()
	rc.state = ResourceActive
	rc.target = target
	rc.mu.Unlock()
	close(rc.ready)
	rc.logger.Info("orchestrated resource active", "plan_id", rc.planID, "target", target.String())
}

func (rc *ResourceChecker) fail(err error) {
	rc.mu.Lock()
	rc.state = ResourceFailed
	rc.err = err
	rc.mu.Unlock()
	close(rc.ready)
	rc.logger.Error("orchestrated resource failed", "plan_id", rc.planID, "error", err)
}

// State returns the most recent resource state.
func (rc *ResourceChecker) State() ResourceState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// IsReady reports whether the resource reached Active.
func (rc *ResourceChecker) IsReady() bool {
	return rc.State() == ResourceActive
}

// WaitUntilReady blocks until the resource becomes Active, the checker fails
// terminally, or ctx expires. A ctx deadline surfaces as ErrResourceNotReady.
// Any number of callers may wait concurrently.
func (rc *ResourceChecker) WaitUntilReady(ctx context.Context) (transport.Target, error) {
	select {
	case <-rc.ready:
	case <-rc.stop:
	case <-ctx.Done():
		return transport.Target{}, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrResourceNotReady, ctx.Err()),
			"ResourceChecker", "WaitUntilReady", "await active resource")
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.state == ResourceActive {
		return rc.target, nil
	}
	cause := rc.err
	if cause == nil {
		cause = fmt.Errorf("checker stopped while resource pending")
	}
	return transport.Target{}, errors.WrapTransient(
		fmt.Errorf("%w: %w", errors.ErrResourceNotReady, cause),
		"ResourceChecker", "WaitUntilReady", "await active resource")
}

// Stop cancels the polling goroutine and releases waiters. Idempotent; safe
// to call whether or not Start ran.
func (rc *ResourceChecker) Stop() {
	rc.stopOnce.Do(func() {
		rc.pollCancel()
		close(rc.stop)
	})

	rc.mu.Lock()
	started := rc.started
	rc.mu.Unlock()
	if started {
		<-rc.done
	}
}

// parseServiceURL extracts a dialable target from an orchestrated service
// URL, applying defaultPort when the URL names none.
func parseServiceURL(raw string, defaultPort int) (transport.Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return transport.Target{}, fmt.Errorf("parse service url: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		// Bare host without scheme
		host = raw
	}
	if host == "" {
		return transport.Target{}, fmt.Errorf("service url %q carries no host", raw)
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return transport.Target{}, fmt.Errorf("parse service port: %w", err)
		}
	}

	return transport.Target{Host: host, Port: port}, nil
}
