package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/middleware"
	"github.com/Kapim/era-5g-client/testutil"
	"github.com/Kapim/era-5g-client/transport"
)

func startCheckerFixture(t *testing.T, fake *testutil.FakeMiddleware) *middleware.ResourceChecker {
	t.Helper()

	client := newTestClient(fake)
	require.NoError(t, client.Login(context.Background()))
	plan, err := client.RequestPlan(context.Background(), "task-42", false)
	require.NoError(t, err)

	checker := middleware.NewResourceChecker(client, plan.ID,
		middleware.WithPollInterval(20*time.Millisecond))
	checker.Start()
	t.Cleanup(checker.Stop)
	return checker
}

func TestCheckerBecomesActive(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	fake.ActivateAfter = 3
	defer fake.Close()

	checker := startCheckerFixture(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target, err := checker.WaitUntilReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.Target{Host: "127.0.0.1", Port: 5896}, target)
	assert.Equal(t, middleware.ResourceActive, checker.State())
	assert.True(t, checker.IsReady())
}

func TestCheckerStopsPollingOnceActive(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	defer fake.Close()

	checker := startCheckerFixture(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := checker.WaitUntilReady(ctx)
	require.NoError(t, err)

	polls := fake.StatusPolls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, polls, fake.StatusPolls())
}

func TestCheckerDefaultPortApplied(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	fake.ServiceURL = "http://netapp.example.com"
	defer fake.Close()

	checker := startCheckerFixture(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	target, err := checker.WaitUntilReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.Target{Host: "netapp.example.com", Port: middleware.DefaultNetAppPort}, target)
}

func TestCheckerWaitDeadline(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	fake.ActivateAfter = 1000
	defer fake.Close()

	checker := startCheckerFixture(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := checker.WaitUntilReady(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResourceNotReady)
	assert.Equal(t, middleware.ResourcePending, checker.State())
}

func TestCheckerPlanGone(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	defer fake.Close()

	client := newTestClient(fake)
	require.NoError(t, client.Login(context.Background()))

	checker := middleware.NewResourceChecker(client, "no-such-plan",
		middleware.WithPollInterval(20*time.Millisecond))
	checker.Start()
	defer checker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := checker.WaitUntilReady(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResourceNotReady)
	assert.ErrorIs(t, err, errors.ErrPlanGone)
	assert.Equal(t, middleware.ResourceFailed, checker.State())
}

func TestCheckerManyWaiters(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	fake.ActivateAfter = 2
	defer fake.Close()

	checker := startCheckerFixture(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]transport.Target, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target, err := checker.WaitUntilReady(ctx)
			assert.NoError(t, err)
			results[i] = target
		}(i)
	}
	wg.Wait()

	for _, target := range results {
		assert.Equal(t, transport.Target{Host: "127.0.0.1", Port: 5896}, target)
	}
}

func TestCheckerStopIdempotent(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	fake.ActivateAfter = 1000
	defer fake.Close()

	checker := startCheckerFixture(t, fake)
	checker.Stop()
	checker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := checker.WaitUntilReady(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResourceNotReady)
}

func TestCheckerStopInterruptsSlowPoll(t *testing.T) {
	statusStarted := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/Login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"tok"}`))
		case strings.HasPrefix(r.URL.Path, "/orchestrate/"):
			select {
			case statusStarted <- struct{}{}:
			default:
			}
			// Hold the poll open until the client abandons it
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	client := middleware.NewClient(middleware.Info{
		Address: strings.TrimPrefix(srv.URL, "http://"),
		User:    "user",
	})
	require.NoError(t, client.Login(context.Background()))

	// 10x the interval is the per-poll timeout; keep it well above the
	// bound asserted below so only cancellation can satisfy it.
	checker := middleware.NewResourceChecker(client, "plan-1",
		middleware.WithPollInterval(300*time.Millisecond))
	checker.Start()

	select {
	case <-statusStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("no status poll observed")
	}

	start := time.Now()
	checker.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckerStopWithoutStart(t *testing.T) {
	fake := testutil.NewFakeMiddleware()
	defer fake.Close()

	client := newTestClient(fake)
	checker := middleware.NewResourceChecker(client, "plan-1")
	checker.Stop()
	checker.Stop()
}
