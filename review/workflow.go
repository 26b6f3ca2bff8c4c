package review

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/reviewpilot/reviewpilot/llm"
	"github.com/reviewpilot/reviewpilot/workflow"
)

// Workflow identifiers and the events that trigger them.
const (
	GenerateReviewID = "generate-review"
	IndexRepoID      = "index-repo"

	EventReviewRequested     = "pr.review.requested"
	EventRepositoryConnected = "repository.connected"
)

// StatusCompleted marks a persisted review record as finished.
const StatusCompleted = "completed"

// ReviewRequested is the payload of a pr.review.requested event.
type ReviewRequested struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"prNumber"`
	UserID   string `json:"userId"`
}

// Validate checks all required fields are present.
func (p *ReviewRequested) Validate() error {
	if p.Owner == "" || p.Repo == "" {
		return fmt.Errorf("owner and repo are required")
	}
	if p.PRNumber <= 0 {
		return fmt.Errorf("prNumber must be positive")
	}
	if p.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}

// prData is the persisted result of the fetch-pr-data step. The access
// token rides along so the post-comment step does not need a second
// credential lookup; it is persisted with the step result, matching the
// durability model where cached results must fully reconstruct later
// steps' inputs after a restart.
type prData struct {
	Diff        string `json:"diff"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Token       string `json:"token"`
}

// Service wires the review workflows' external collaborators. One Service
// backs both workflow definitions.
type Service struct {
	GitHub    GitHubClient
	Tokens    TokenSource
	Index     Index
	Generator llm.Generator
	Reviews   ReviewStore
}

// GenerateReview returns the review-generation workflow definition.
//
// Steps run in order: fetch the PR content and credentials, retrieve
// codebase context from the index, generate the review with the language
// model, post it as a PR comment, and persist the review record. Each
// step's success is cached, so a crash between post-comment and
// save-review resumes without posting a second comment.
func (s *Service) GenerateReview() *workflow.Definition {
	return &workflow.Definition{
		ID:           GenerateReviewID,
		TriggerEvent: EventReviewRequested,
		Concurrency:  5,
		RunKeyFunc:   reviewRunKey,
		Steps: []workflow.StepSpec{
			{Name: "fetch-pr-data", Timeout: 30 * time.Second, Run: s.fetchPRData},
			{Name: "retrieve-context", Timeout: 30 * time.Second, Run: s.retrieveContext},
			{Name: "generate-ai-review", Timeout: 2 * time.Minute, Run: s.generateAIReview},
			{Name: "post-comment", Timeout: 30 * time.Second, Run: s.postComment},
			{Name: "save-review", Timeout: 10 * time.Second, Run: s.saveReview},
		},
	}
}

// reviewRunKey dedupes redelivered review requests for the same pull
// request: webhook retries and rapid re-pushes converge on one run.
func reviewRunKey(event workflow.Event) string {
	owner, _ := event.Str("owner")
	repo, _ := event.Str("repo")
	prNumber, _ := event.Int("prNumber")
	return owner + "/" + repo + "/" + strconv.Itoa(prNumber)
}

func (s *Service) payload(event workflow.Event) (*ReviewRequested, error) {
	var p ReviewRequested
	if err := event.DecodeData(&p); err != nil {
		return nil, workflow.Permanent(err)
	}
	if err := p.Validate(); err != nil {
		return nil, workflow.Permanent(err)
	}
	return &p, nil
}

func (s *Service) fetchPRData(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	p, err := s.payload(sc.Event)
	if err != nil {
		return nil, err
	}

	token, err := s.Tokens.AccessToken(ctx, p.UserID)
	if err != nil {
		// Retrying cannot conjure credentials.
		return nil, workflow.Permanent(err)
	}

	pr, err := s.GitHub.FetchPullRequestDiff(ctx, token, p.Owner, p.Repo, p.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch pull request %s/%s#%d: %w", p.Owner, p.Repo, p.PRNumber, err)
	}

	return prData{
		Diff:        pr.Diff,
		Title:       pr.Title,
		Description: pr.Description,
		Token:       token,
	}, nil
}

func (s *Service) retrieveContext(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	p, err := s.payload(sc.Event)
	if err != nil {
		return nil, err
	}

	var data prData
	if err := sc.Result("fetch-pr-data", &data); err != nil {
		return nil, err
	}

	query := data.Title + "\n" + data.Description
	context, err := s.Index.RetrieveContext(ctx, query, p.Owner+"/"+p.Repo)
	if err != nil {
		return nil, fmt.Errorf("retrieve context for %s/%s: %w", p.Owner, p.Repo, err)
	}
	return context, nil
}

func (s *Service) generateAIReview(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	var data prData
	if err := sc.Result("fetch-pr-data", &data); err != nil {
		return nil, err
	}

	var context []string
	if err := sc.Result("retrieve-context", &context); err != nil {
		return nil, err
	}

	prompt := BuildPrompt(&PullRequest{
		Diff:        data.Diff,
		Title:       data.Title,
		Description: data.Description,
	}, context)

	review, err := s.Generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate review: %w", err)
	}
	return review, nil
}

func (s *Service) postComment(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	p, err := s.payload(sc.Event)
	if err != nil {
		return nil, err
	}

	var data prData
	if err := sc.Result("fetch-pr-data", &data); err != nil {
		return nil, err
	}

	var review string
	if err := sc.Result("generate-ai-review", &review); err != nil {
		return nil, err
	}

	if err := s.GitHub.PostComment(ctx, data.Token, p.Owner, p.Repo, p.PRNumber, review); err != nil {
		return nil, fmt.Errorf("post review comment on %s/%s#%d: %w", p.Owner, p.Repo, p.PRNumber, err)
	}
	return nil, nil
}

func (s *Service) saveReview(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	p, err := s.payload(sc.Event)
	if err != nil {
		return nil, err
	}

	var data prData
	if err := sc.Result("fetch-pr-data", &data); err != nil {
		return nil, err
	}

	var review string
	if err := sc.Result("generate-ai-review", &review); err != nil {
		return nil, err
	}

	repo, ok, err := s.Reviews.FindRepository(ctx, p.Owner, p.Repo)
	if err != nil {
		return nil, fmt.Errorf("find repository %s/%s: %w", p.Owner, p.Repo, err)
	}
	if !ok {
		// The repository was disconnected after the review was
		// requested. The comment is already posted; nothing left to
		// record.
		return false, nil
	}

	record := &ReviewRecord{
		RepositoryID: repo.ID,
		PRNumber:     p.PRNumber,
		PRTitle:      data.Title,
		PRURL:        fmt.Sprintf("https://github.com/%s/%s/pull/%d", p.Owner, p.Repo, p.PRNumber),
		Review:       review,
		Status:       StatusCompleted,
	}
	if err := s.Reviews.SaveReview(ctx, record); err != nil {
		return nil, fmt.Errorf("save review record: %w", err)
	}
	return true, nil
}
