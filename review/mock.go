package review

import (
	"context"
	"fmt"
	"sync"
)

// MockGitHub is a test implementation of GitHubClient with configurable
// responses, error injection, and call recording. Safe for concurrent use.
type MockGitHub struct {
	mu sync.Mutex

	// Files returned by FetchRepoFiles.
	Files []File

	// PR returned by FetchPullRequestDiff.
	PR PullRequest

	// FetchFilesErr, FetchDiffErr fail the corresponding calls when set.
	FetchFilesErr error
	FetchDiffErr  error

	// PostCommentErrs is consumed one error per PostComment call; a nil
	// entry means that call succeeds. Once exhausted, calls succeed.
	// Use this to simulate transient failures that clear on retry.
	PostCommentErrs []error

	// Comments records every successfully posted comment body.
	Comments []string

	postCalls int
}

// FetchRepoFiles implements GitHubClient.
func (m *MockGitHub) FetchRepoFiles(_ context.Context, _, _, _ string) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchFilesErr != nil {
		return nil, m.FetchFilesErr
	}
	return m.Files, nil
}

// FetchPullRequestDiff implements GitHubClient.
func (m *MockGitHub) FetchPullRequestDiff(_ context.Context, _, _, _ string, _ int) (PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchDiffErr != nil {
		return PullRequest{}, m.FetchDiffErr
	}
	return m.PR, nil
}

// PostComment implements GitHubClient.
func (m *MockGitHub) PostComment(_ context.Context, _, _, _ string, _ int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.postCalls
	m.postCalls++

	if call < len(m.PostCommentErrs) && m.PostCommentErrs[call] != nil {
		return m.PostCommentErrs[call]
	}

	m.Comments = append(m.Comments, body)
	return nil
}

// MockTokens is a test TokenSource backed by a userID -> token map.
type MockTokens struct {
	Tokens map[string]string
}

// AccessToken implements TokenSource.
func (m *MockTokens) AccessToken(_ context.Context, userID string) (string, error) {
	token, ok := m.Tokens[userID]
	if !ok || token == "" {
		return "", fmt.Errorf("no GitHub access token found for user %s", userID)
	}
	return token, nil
}

// MockIndex is a test Index that records indexed codebases and answers
// queries with canned context. Safe for concurrent use.
type MockIndex struct {
	mu sync.Mutex

	// Context returned by RetrieveContext.
	Context []string

	// IndexErr and RetrieveErr fail the corresponding calls when set.
	IndexErr    error
	RetrieveErr error

	// Indexed maps key -> number of files ingested.
	Indexed map[string]int
}

// IndexCodebase implements Index.
func (m *MockIndex) IndexCodebase(_ context.Context, key string, files []File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IndexErr != nil {
		return m.IndexErr
	}
	if m.Indexed == nil {
		m.Indexed = make(map[string]int)
	}
	m.Indexed[key] = len(files)
	return nil
}

// RetrieveContext implements Index.
func (m *MockIndex) RetrieveContext(_ context.Context, _, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RetrieveErr != nil {
		return nil, m.RetrieveErr
	}
	return m.Context, nil
}
