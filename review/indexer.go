package review

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewpilot/reviewpilot/workflow"
)

// RepositoryConnected is the payload of a repository.connected event.
type RepositoryConnected struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	UserID string `json:"userId"`
}

// Validate checks all required fields are present.
func (p *RepositoryConnected) Validate() error {
	if p.Owner == "" || p.Repo == "" {
		return fmt.Errorf("owner and repo are required")
	}
	if p.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}

// IndexRepo returns the repository-indexing workflow definition: fetch
// every file of a newly connected repository, then ingest them into the
// retrieval index under the "owner/repo" key. The indexed file count is
// the workflow's final step result.
func (s *Service) IndexRepo() *workflow.Definition {
	return &workflow.Definition{
		ID:           IndexRepoID,
		TriggerEvent: EventRepositoryConnected,
		RunKeyFunc:   indexRunKey,
		Steps: []workflow.StepSpec{
			{Name: "fetch-files", Timeout: 2 * time.Minute, Run: s.fetchFiles},
			{Name: "index-codebase", Timeout: 5 * time.Minute, Run: s.indexCodebase},
		},
	}
}

// indexRunKey dedupes concurrent connect requests for the same repository.
func indexRunKey(event workflow.Event) string {
	owner, _ := event.Str("owner")
	repo, _ := event.Str("repo")
	return owner + "/" + repo
}

func (s *Service) indexPayload(event workflow.Event) (*RepositoryConnected, error) {
	var p RepositoryConnected
	if err := event.DecodeData(&p); err != nil {
		return nil, workflow.Permanent(err)
	}
	if err := p.Validate(); err != nil {
		return nil, workflow.Permanent(err)
	}
	return &p, nil
}

func (s *Service) fetchFiles(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	p, err := s.indexPayload(sc.Event)
	if err != nil {
		return nil, err
	}

	token, err := s.Tokens.AccessToken(ctx, p.UserID)
	if err != nil {
		return nil, workflow.Permanent(err)
	}

	files, err := s.GitHub.FetchRepoFiles(ctx, token, p.Owner, p.Repo)
	if err != nil {
		return nil, fmt.Errorf("fetch files of %s/%s: %w", p.Owner, p.Repo, err)
	}
	return files, nil
}

func (s *Service) indexCodebase(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	p, err := s.indexPayload(sc.Event)
	if err != nil {
		return nil, err
	}

	var files []File
	if err := sc.Result("fetch-files", &files); err != nil {
		return nil, err
	}

	key := p.Owner + "/" + p.Repo
	if err := s.Index.IndexCodebase(ctx, key, files); err != nil {
		return nil, fmt.Errorf("index codebase %s: %w", key, err)
	}
	return len(files), nil
}
