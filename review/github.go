// Package review implements the two product workflows built on the
// workflow engine: repository indexing and AI pull-request review
// generation.
package review

import "context"

// File is one file fetched from a connected repository.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PullRequest is the reviewable content of one pull request.
type PullRequest struct {
	Diff        string `json:"diff"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GitHubClient is the remote GitHub surface the workflows depend on. The
// real implementation lives outside this repository; workflows treat it as
// an opaque, fallible service.
type GitHubClient interface {
	// FetchRepoFiles lists every file of a repository with its content.
	FetchRepoFiles(ctx context.Context, token, owner, repo string) ([]File, error)

	// FetchPullRequestDiff retrieves the diff, title, and description of
	// a pull request.
	FetchPullRequestDiff(ctx context.Context, token, owner, repo string, prNumber int) (PullRequest, error)

	// PostComment publishes a review comment on a pull request. This is
	// the externally visible side effect the step cache protects: the
	// engine never re-invokes a succeeded post.
	PostComment(ctx context.Context, token, owner, repo string, prNumber int, body string) error
}

// TokenSource resolves a user's GitHub access token. A missing token is a
// permanent failure: retrying cannot produce credentials.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Index is the retrieval-augmented-generation store: it ingests a codebase
// under a key and answers context queries against it.
type Index interface {
	IndexCodebase(ctx context.Context, key string, files []File) error
	RetrieveContext(ctx context.Context, query, key string) ([]string, error)
}
