package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/reviewpilot/reviewpilot/review"
	"github.com/reviewpilot/reviewpilot/workflow"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

const testSecret = "webhook-secret"

type testServer struct {
	*Server
	router *echo.Echo
	store  *store.MemStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemStore()

	def := &workflow.Definition{
		ID:           "generate-review",
		TriggerEvent: review.EventReviewRequested,
		RunKeyFunc: func(e workflow.Event) string {
			owner, _ := e.Str("owner")
			repo, _ := e.Str("repo")
			n, _ := e.Int("prNumber")
			return owner + "/" + repo + "/" + string(rune('0'+n))
		},
		Steps: []workflow.StepSpec{
			{Name: "noop", Run: func(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
				return nil, nil
			}},
		},
	}

	indexDef := &workflow.Definition{
		ID:           "index-repo",
		TriggerEvent: review.EventRepositoryConnected,
		RunKeyFunc: func(e workflow.Event) string {
			owner, _ := e.Str("owner")
			repo, _ := e.Str("repo")
			return owner + "/" + repo
		},
		Steps: []workflow.StepSpec{
			{Name: "noop", Run: func(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
				return nil, nil
			}},
		},
	}

	registry := workflow.NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(indexDef); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := workflow.NewRunner(st, nil, nil)
	bus := workflow.NewBus(registry, runner, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})

	server := &Server{
		Bus:           bus,
		Runs:          st,
		Reviews:       review.NewMemReviews(),
		WebhookSecret: testSecret,
	}
	return &testServer{Server: server, router: server.Router(), store: st}
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (ts *testServer) deliver(event, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) runCount(t *testing.T) int {
	t.Helper()
	runs, err := ts.store.ListRunsByStatus(context.Background(),
		store.StatusPending, store.StatusRunning, store.StatusCompleted, store.StatusFailed)
	if err != nil {
		t.Fatalf("ListRunsByStatus failed: %v", err)
	}
	return len(runs)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)
	body := `{"zen":"Keep it logically awesome."}`

	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", sign("not-the-secret", body)},
		{"malformed header", "md5=abcdef"},
		{"tampered body", sign(testSecret, body+" ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.deliver("ping", body, tt.signature)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}

	if n := ts.runCount(t); n != 0 {
		t.Errorf("unauthenticated deliveries created %d runs", n)
	}
}

func TestWebhook_Ping(t *testing.T) {
	ts := newTestServer(t)
	body := `{"zen":"Design for failure."}`

	rec := ts.deliver("ping", body, sign(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pong"`) {
		t.Errorf("expected pong response, got %s", rec.Body.String())
	}
}

func TestWebhook_PullRequestTriggersReview(t *testing.T) {
	body := `{
		"action": "opened",
		"number": 7,
		"repository": {"name": "hello-world", "owner": {"login": "octocat"}},
		"sender": {"login": "octocat"}
	}`

	for _, action := range []string{"opened", "synchronize", "reopened"} {
		t.Run(action, func(t *testing.T) {
			ts := newTestServer(t)
			payload := strings.Replace(body, "opened", action, 1)

			rec := ts.deliver("pull_request", payload, sign(testSecret, payload))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if n := ts.runCount(t); n != 1 {
				t.Errorf("expected 1 run, got %d", n)
			}
		})
	}
}

func TestWebhook_IgnoredActionsAndEvents(t *testing.T) {
	ts := newTestServer(t)

	closed := `{
		"action": "closed",
		"number": 7,
		"repository": {"name": "hello-world", "owner": {"login": "octocat"}},
		"sender": {"login": "octocat"}
	}`
	rec := ts.deliver("pull_request", closed, sign(testSecret, closed))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a closed PR, got %d", rec.Code)
	}

	push := `{"ref": "refs/heads/main"}`
	rec = ts.deliver("push", push, sign(testSecret, push))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an unhandled event, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Event processed") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	if n := ts.runCount(t); n != 0 {
		t.Errorf("ignored deliveries created %d runs", n)
	}
}

func TestWebhook_MalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	body := `{"action": "opened"`

	rec := ts.deliver("pull_request", body, sign(testSecret, body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestWebhook_EmptySecretSkipsVerification(t *testing.T) {
	ts := newTestServer(t)
	ts.WebhookSecret = ""

	rec := ts.deliver("ping", `{}`, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with verification disabled, got %d", rec.Code)
	}
}
