package review

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultAPIBase = "https://api.github.com"

// maxFileSize skips oversized blobs during repository fetch; the retrieval
// index has no use for generated bundles or binaries.
const maxFileSize = 256 * 1024

// RESTClient is a GitHubClient over the GitHub REST v3 API.
type RESTClient struct {
	base   string
	client *http.Client
}

// NewRESTClient creates a GitHub API client. An empty base uses the public
// endpoint.
func NewRESTClient(base string) *RESTClient {
	if base == "" {
		base = defaultAPIBase
	}
	return &RESTClient{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *RESTClient) do(ctx context.Context, method, url, token, accept string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("github: %s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// FetchPullRequestDiff implements GitHubClient. It issues two requests:
// the JSON representation for title and description, and the diff media
// type for the patch content.
func (c *RESTClient) FetchPullRequestDiff(ctx context.Context, token, owner, repo string, prNumber int) (PullRequest, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.base, owner, repo, prNumber)

	resp, err := c.do(ctx, http.MethodGet, url, token, "application/vnd.github+json", nil)
	if err != nil {
		return PullRequest{}, err
	}
	var meta struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	err = json.NewDecoder(resp.Body).Decode(&meta)
	resp.Body.Close()
	if err != nil {
		return PullRequest{}, fmt.Errorf("decode pull request: %w", err)
	}

	resp, err = c.do(ctx, http.MethodGet, url, token, "application/vnd.github.v3.diff", nil)
	if err != nil {
		return PullRequest{}, err
	}
	diff, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return PullRequest{}, fmt.Errorf("read diff: %w", err)
	}

	return PullRequest{
		Diff:        string(diff),
		Title:       meta.Title,
		Description: meta.Body,
	}, nil
}

// FetchRepoFiles implements GitHubClient. It downloads the default-branch
// tarball and extracts text files, which costs one request regardless of
// repository size.
func (c *RESTClient) FetchRepoFiles(ctx context.Context, token, owner, repo string) ([]File, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/tarball", c.base, owner, repo)

	resp, err := c.do(ctx, http.MethodGet, url, token, "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("open tarball: %w", err)
	}
	defer gz.Close()

	var files []File
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tarball: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Size > maxFileSize {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		if !utf8.Valid(content) {
			continue
		}

		// Tarball entries are prefixed with "owner-repo-sha/".
		path := hdr.Name
		if i := strings.IndexByte(path, '/'); i >= 0 {
			path = path[i+1:]
		}
		if path == "" {
			continue
		}
		files = append(files, File{Path: path, Content: string(content)})
	}
	return files, nil
}

// PostComment implements GitHubClient.
func (c *RESTClient) PostComment(ctx context.Context, token, owner, repo string, prNumber int, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.base, owner, repo, prNumber)
	resp, err := c.do(ctx, http.MethodPost, url, token, "application/vnd.github+json", strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// StaticTokens is a TokenSource that issues the same token to every user:
// the single-tenant deployment mode where the daemon runs under one GitHub
// installation token.
type StaticTokens struct {
	Token string
}

// AccessToken implements TokenSource.
func (t *StaticTokens) AccessToken(_ context.Context, userID string) (string, error) {
	if t.Token == "" {
		return "", fmt.Errorf("no GitHub access token found for user %s", userID)
	}
	return t.Token, nil
}
