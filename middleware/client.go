// Package middleware provides the orchestration middleware collaborators: a
// REST client for the login/plan/status/teardown call sequence and a
// background checker that waits for an orchestrated resource to become
// reachable.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/pkg/retry"
)

// Info identifies a middleware deployment and the credentials used against it.
type Info struct {
	// Address is the middleware host (and optional port), without scheme.
	Address string
	// User and Password are the middleware account credentials.
	User     string
	Password string
}

// Endpoint builds an API endpoint on the middleware.
func (i Info) Endpoint(path string) string {
	return fmt.Sprintf("http://%s/%s", i.Address, path)
}

// Plan is the middleware's record of a requested deployment.
type Plan struct {
	ID       string
	Services []string
}

// ServiceStatus is the per-service readiness report from a status poll.
type ServiceStatus struct {
	Status string
	URL    string
}

// Active reports whether the service is reachable.
func (s ServiceStatus) Active() bool {
	return s.Status == "Active" && s.URL != ""
}

// Client is the middleware REST client. Login stores a bearer token which is
// attached to all subsequent calls.
type Client struct {
	info     Info
	http     *http.Client
	logger   *slog.Logger
	retryCfg retry.Config

	token string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRetryConfig sets the local retry budget for status polls.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient creates a middleware client for the given deployment.
func NewClient(info Info, opts ...ClientOption) *Client {
	c := &Client{
		info:     info,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
		retryCfg: retry.Quick(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token obtained by Login, empty before login.
func (c *Client) Token() string {
	return c.token
}

type loginResponse struct {
	Token  string `json:"token"`
	Errors any    `json:"errors"`
}

// Login authenticates against the middleware and stores the bearer token.
// Fails with ErrFailedToConnect on unreachable middleware, rejected
// credentials, or a malformed response.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{"Id": c.info.User, "Password": c.info.Password}

	var resp loginResponse
	if err := c.post(ctx, "Login", body, &resp, false); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrFailedToConnect, err),
			"middleware", "Login", "request token")
	}

	if resp.Errors != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: login rejected: %v", errors.ErrFailedToConnect, resp.Errors),
			"middleware", "Login", "validate response")
	}
	if resp.Token == "" {
		return errors.WrapTransient(
			fmt.Errorf("%w: empty token in login response", errors.ErrFailedToConnect),
			"middleware", "Login", "validate response")
	}

	c.token = resp.Token
	c.logger.Info("logged into middleware", "address", c.info.Address)
	return nil
}

type planResponse struct {
	ActionPlanID   string `json:"ActionPlanId"`
	StatusCode     int    `json:"statusCode"`
	Message        string `json:"message"`
	ActionSequence []struct {
		ID string `json:"Id"`
	} `json:"ActionSequence"`
}

// RequestPlan asks the middleware to allocate a deployment for the task.
// Returns the plan id and the ids of the services in the action sequence.
func (c *Client) RequestPlan(ctx context.Context, taskID string, resourceLock bool) (*Plan, error) {
	body := map[string]any{"TaskId": taskID, "LockResourceReUse": resourceLock}

	var resp planResponse
	if err := c.post(ctx, "Task/Plan", body, &resp, true); err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrFailedToConnect, err),
			"middleware", "RequestPlan", "request plan")
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusInternalServerError {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: plan request rejected (%d): %s",
				errors.ErrFailedToConnect, resp.StatusCode, resp.Message),
			"middleware", "RequestPlan", "validate response")
	}
	if resp.ActionPlanID == "" {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: plan response carries no plan id", errors.ErrFailedToConnect),
			"middleware", "RequestPlan", "validate response")
	}

	plan := &Plan{ID: resp.ActionPlanID}
	for _, action := range resp.ActionSequence {
		plan.Services = append(plan.Services, action.ID)
	}

	c.logger.Info("obtained orchestration plan", "plan_id", plan.ID, "services", len(plan.Services))
	return plan, nil
}

type statusResponse struct {
	ActionSequence []struct {
		Services []struct {
			ServiceStatus string `json:"serviceStatus"`
			ServiceURL    string `json:"serviceUrl"`
		} `json:"Services"`
	} `json:"actionSequence"`
}

// PlanStatus reports the readiness of every service in the plan. Each call
// runs under the client's local retry budget; exhausted retries surface as
// ErrOrchestrationUnavailable, a missing plan as ErrPlanGone.
func (c *Client) PlanStatus(ctx context.Context, planID string) ([]ServiceStatus, error) {
	var statuses []ServiceStatus

	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.info.Endpoint("orchestrate/orchestrate/plan/"+planID), nil)
		if err != nil {
			return retry.NonRetryable(err)
		}
		c.authorize(req)

		httpResp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode == http.StatusNotFound {
			return retry.NonRetryable(errors.ErrPlanGone)
		}
		if httpResp.StatusCode != http.StatusOK {
			return fmt.Errorf("status poll returned %d", httpResp.StatusCode)
		}

		var resp statusResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return fmt.Errorf("malformed status response: %w", err)
		}

		statuses = statuses[:0]
		for _, action := range resp.ActionSequence {
			for _, svc := range action.Services {
				statuses = append(statuses, ServiceStatus{
					Status: svc.ServiceStatus,
					URL:    svc.ServiceURL,
				})
			}
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrPlanGone) {
			return nil, errors.WrapTransient(err, "middleware", "PlanStatus", "poll plan status")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrOrchestrationUnavailable, err),
			"middleware", "PlanStatus", "poll plan status")
	}

	return statuses, nil
}

// DeletePlan releases the plan, triggering teardown of the deployment.
func (c *Client) DeletePlan(ctx context.Context, planID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.info.Endpoint("orchestrate/orchestrate/plan/"+planID), nil)
	if err != nil {
		return errors.WrapInvalid(err, "middleware", "DeletePlan", "build request")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "middleware", "DeletePlan", "delete plan")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.WrapTransient(
			fmt.Errorf("plan deletion returned %d", resp.StatusCode),
			"middleware", "DeletePlan", "delete plan")
	}

	c.logger.Info("released orchestration plan", "plan_id", planID)
	return nil
}

// post issues a JSON POST and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any, withToken bool) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.info.Endpoint(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
