package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// FakeMiddleware is an in-process orchestration middleware. It issues tokens,
// creates plans, and reports a plan's service as Active after ActivateAfter
// status polls, mirroring the staged readiness of a real deployment.
type FakeMiddleware struct {
	// ActivateAfter is the number of status polls before the service
	// reports Active. Zero means active on the first poll.
	ActivateAfter int

	// ServiceURL is the address reported once Active.
	ServiceURL string

	// FailLogin makes the login endpoint answer with an error body.
	FailLogin bool

	server *httptest.Server

	mu          sync.Mutex
	statusPolls int
	planID      string
	deleted     []string
	token       string
}

// NewFakeMiddleware starts a fake middleware on an ephemeral port.
func NewFakeMiddleware() *FakeMiddleware {
	f := &FakeMiddleware{
		ServiceURL: "http://127.0.0.1:5896",
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Address returns the middleware base address (host:port, no scheme).
func (f *FakeMiddleware) Address() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

// Close shuts the fake down.
func (f *FakeMiddleware) Close() {
	f.server.Close()
}

// StatusPolls returns how many status requests have been served.
func (f *FakeMiddleware) StatusPolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusPolls
}

// DeletedPlans returns the plan ids that were deleted.
func (f *FakeMiddleware) DeletedPlans() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

// Token returns the last issued bearer token.
func (f *FakeMiddleware) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *FakeMiddleware) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/Login":
		f.handleLogin(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/Task/Plan":
		f.handlePlan(w, r)
	case strings.HasPrefix(r.URL.Path, "/orchestrate/orchestrate/plan/"):
		planID := strings.TrimPrefix(r.URL.Path, "/orchestrate/orchestrate/plan/")
		switch r.Method {
		case http.MethodGet:
			f.handleStatus(w, r, planID)
		case http.MethodDelete:
			f.handleDelete(w, r, planID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeMiddleware) handleLogin(w http.ResponseWriter, _ *http.Request) {
	if f.FailLogin {
		writeJSON(w, map[string]any{"errors": "invalid credentials"})
		return
	}

	f.mu.Lock()
	f.token = fmt.Sprintf("token-%d", f.statusPolls+1)
	token := f.token
	f.mu.Unlock()

	writeJSON(w, map[string]any{"token": token})
}

func (f *FakeMiddleware) handlePlan(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeJSON(w, map[string]any{"statusCode": 400, "message": "missing bearer token"})
		return
	}

	f.mu.Lock()
	f.planID = "plan-1"
	f.statusPolls = 0
	planID := f.planID
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"ActionPlanId": planID,
		"ActionSequence": []map[string]any{
			{"Id": "service-1"},
		},
	})
}

func (f *FakeMiddleware) handleStatus(w http.ResponseWriter, r *http.Request, planID string) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	known := planID == f.planID
	f.statusPolls++
	polls := f.statusPolls
	activateAfter := f.ActivateAfter
	url := f.ServiceURL
	f.mu.Unlock()

	if !known {
		http.NotFound(w, r)
		return
	}

	status := "Pending"
	serviceURL := ""
	if polls > activateAfter {
		status = "Active"
		serviceURL = url
	}

	writeJSON(w, map[string]any{
		"actionSequence": []map[string]any{
			{
				"Services": []map[string]any{
					{"serviceStatus": status, "serviceUrl": serviceURL},
				},
			},
		},
	})
}

func (f *FakeMiddleware) handleDelete(w http.ResponseWriter, r *http.Request, planID string) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.deleted = append(f.deleted, planID)
	f.mu.Unlock()

	writeJSON(w, map[string]any{})
}

func (f *FakeMiddleware) authorized(r *http.Request) bool {
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()
	if token == "" {
		return false
	}
	return r.Header.Get("Authorization") == "Bearer "+token
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
