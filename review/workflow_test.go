package review

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reviewpilot/reviewpilot/llm"
	"github.com/reviewpilot/reviewpilot/workflow"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

type fixture struct {
	github  *MockGitHub
	tokens  *MockTokens
	index   *MockIndex
	model   *llm.Mock
	reviews *MemReviews

	store *store.MemStore
	bus   *workflow.Bus
}

// fastRetry keeps test retries sub-millisecond.
var fastRetry = workflow.RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    5 * time.Millisecond,
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		github: &MockGitHub{
			PR: PullRequest{
				Diff:        "diff --git a/main.go b/main.go\n+func main() {}",
				Title:       "Add entrypoint",
				Description: "Introduces the main function",
			},
		},
		tokens:  &MockTokens{Tokens: map[string]string{"user-1": "ghp_token"}},
		index:   &MockIndex{Context: []string{"File: main.go\npackage main"}},
		model:   &llm.Mock{Responses: []string{"## 1. Executive Summary\nLooks good."}},
		reviews: NewMemReviews(),
		store:   store.NewMemStore(),
	}

	if err := f.reviews.AddRepository(context.Background(), &Repository{
		ID:    "repo-1",
		Owner: "octocat",
		Name:  "hello-world",
	}); err != nil {
		t.Fatalf("AddRepository failed: %v", err)
	}

	service := &Service{
		GitHub:    f.github,
		Tokens:    f.tokens,
		Index:     f.index,
		Generator: f.model,
		Reviews:   f.reviews,
	}

	reviewDef := service.GenerateReview()
	reviewDef.Retry = fastRetry
	indexDef := service.IndexRepo()
	indexDef.Retry = fastRetry

	registry := workflow.NewRegistry()
	for _, def := range []*workflow.Definition{reviewDef, indexDef} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("Register %s failed: %v", def.ID, err)
		}
	}

	runner := workflow.NewRunner(f.store, nil, nil)
	f.bus = workflow.NewBus(registry, runner, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.bus.Close(ctx)
	})

	return f
}

func (f *fixture) waitTerminal(t *testing.T, runID string) store.Status {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := f.store.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status.Terminal() {
			return run.Status
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status in time", runID)
	return ""
}

func reviewEvent() workflow.Event {
	return workflow.Event{
		Name: EventReviewRequested,
		Data: map[string]interface{}{
			"owner":    "octocat",
			"repo":     "hello-world",
			"prNumber": 42,
			"userId":   "user-1",
		},
	}
}

func TestGenerateReview_HappyPath(t *testing.T) {
	f := newFixture(t)

	runID, err := f.bus.Publish(context.Background(), reviewEvent())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusCompleted {
		t.Fatalf("expected Completed, got %s", status)
	}

	if len(f.github.Comments) != 1 {
		t.Fatalf("expected 1 posted comment, got %d", len(f.github.Comments))
	}
	if !strings.Contains(f.github.Comments[0], "Executive Summary") {
		t.Errorf("comment does not contain the generated review: %s", f.github.Comments[0])
	}

	records, err := f.reviews.ListReviews(context.Background(), "repo-1")
	if err != nil {
		t.Fatalf("ListReviews failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 review record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != StatusCompleted {
		t.Errorf("expected status %q, got %q", StatusCompleted, rec.Status)
	}
	if rec.PRNumber != 42 || rec.PRTitle != "Add entrypoint" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.PRURL != "https://github.com/octocat/hello-world/pull/42" {
		t.Errorf("unexpected PR URL: %s", rec.PRURL)
	}
}

func TestGenerateReview_PromptCarriesPRContent(t *testing.T) {
	f := newFixture(t)

	runID, err := f.bus.Publish(context.Background(), reviewEvent())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusCompleted {
		t.Fatalf("expected Completed, got %s", status)
	}

	calls := f.model.CallLog()
	if len(calls) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(calls))
	}
	prompt := calls[0]
	for _, want := range []string{
		"PR Title: Add entrypoint",
		"Introduces the main function",
		"File: main.go",
		"diff --git",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateReview_TransientPostFailurePostsOnce(t *testing.T) {
	f := newFixture(t)
	f.github.PostCommentErrs = []error{errors.New("502 Bad Gateway")}

	runID, err := f.bus.Publish(context.Background(), reviewEvent())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusCompleted {
		t.Fatalf("expected Completed after retry, got %s", status)
	}

	if len(f.github.Comments) != 1 {
		t.Errorf("expected exactly 1 comment despite the retry, got %d", len(f.github.Comments))
	}

	// The retry must not have re-run the generation step.
	if calls := f.model.CallLog(); len(calls) != 1 {
		t.Errorf("expected 1 model call, got %d", len(calls))
	}

	result, err := f.store.GetStepResult(context.Background(), runID, "post-comment")
	if err != nil {
		t.Fatalf("GetStepResult failed: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts on post-comment, got %d", result.Attempts)
	}
}

func TestGenerateReview_MissingTokenFailsPermanently(t *testing.T) {
	f := newFixture(t)
	f.tokens.Tokens = map[string]string{}

	runID, err := f.bus.Publish(context.Background(), reviewEvent())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusFailed {
		t.Fatalf("expected Failed, got %s", status)
	}

	result, err := f.store.GetStepResult(context.Background(), runID, "fetch-pr-data")
	if err != nil {
		t.Fatalf("GetStepResult failed: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("missing credentials should not retry: %d attempts", result.Attempts)
	}

	if len(f.model.CallLog()) != 0 {
		t.Error("model should never be called without PR data")
	}
	if len(f.github.Comments) != 0 {
		t.Error("no comment should be posted on a failed run")
	}
}

func TestGenerateReview_InvalidPayloadFails(t *testing.T) {
	f := newFixture(t)

	runID, err := f.bus.Publish(context.Background(), workflow.Event{
		Name: EventReviewRequested,
		Data: map[string]interface{}{"owner": "octocat"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusFailed {
		t.Fatalf("expected Failed, got %s", status)
	}
}

func TestGenerateReview_DisconnectedRepositoryStillComments(t *testing.T) {
	f := newFixture(t)

	event := reviewEvent()
	event.Data["owner"] = "someone-else"
	f.github.PR.Title = "External PR"

	runID, err := f.bus.Publish(context.Background(), event)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusCompleted {
		t.Fatalf("expected Completed, got %s", status)
	}

	if len(f.github.Comments) != 1 {
		t.Errorf("expected the comment regardless of repository state, got %d", len(f.github.Comments))
	}
	records, err := f.reviews.ListReviews(context.Background(), "repo-1")
	if err != nil {
		t.Fatalf("ListReviews failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("no record should exist for an unknown repository, got %d", len(records))
	}
}

func TestGenerateReview_RedeliveryConvergesOnOneRun(t *testing.T) {
	f := newFixture(t)

	first, err := f.bus.Publish(context.Background(), reviewEvent())
	if err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}
	second, err := f.bus.Publish(context.Background(), reviewEvent())
	if err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}
	if first != second {
		t.Errorf("redelivery created a second run: %s vs %s", first, second)
	}

	if status := f.waitTerminal(t, first); status != store.StatusCompleted {
		t.Fatalf("expected Completed, got %s", status)
	}
	if len(f.github.Comments) != 1 {
		t.Errorf("expected exactly 1 comment, got %d", len(f.github.Comments))
	}
}

func TestIndexRepo_IndexesFetchedFiles(t *testing.T) {
	f := newFixture(t)
	f.github.Files = []File{
		{Path: "main.go", Content: "package main"},
		{Path: "go.mod", Content: "module hello"},
	}

	runID, err := f.bus.Publish(context.Background(), workflow.Event{
		Name: EventRepositoryConnected,
		Data: map[string]interface{}{
			"owner":  "octocat",
			"repo":   "hello-world",
			"userId": "user-1",
		},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if status := f.waitTerminal(t, runID); status != store.StatusCompleted {
		t.Fatalf("expected Completed, got %s", status)
	}

	if n := f.index.Indexed["octocat/hello-world"]; n != 2 {
		t.Errorf("expected 2 indexed files, got %d", n)
	}

	result, err := f.store.GetStepResult(context.Background(), runID, "index-codebase")
	if err != nil {
		t.Fatalf("GetStepResult failed: %v", err)
	}
	var count int
	if err := json.Unmarshal(result.Value, &count); err != nil {
		t.Fatalf("failed to decode step value: %v", err)
	}
	if count != 2 {
		t.Errorf("expected step result 2, got %d", count)
	}
}
