package review

import (
	"context"
	"sync"
	"time"
)

// Repository is a connected GitHub repository. Created when a user
// connects a repository; the indexing workflow and review history hang off
// it.
type Repository struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	UserID string `json:"userId"`
}

// FullName returns "owner/name", the key the retrieval index is stored
// under.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// ReviewRecord is the persisted outcome of one review-generation run,
// displayed in the dashboard's review-history list. Created only by the
// successful completion of the review workflow's save step.
type ReviewRecord struct {
	RepositoryID string    `json:"repositoryId"`
	PRNumber     int       `json:"prNumber"`
	PRTitle      string    `json:"prTitle"`
	PRURL        string    `json:"prUrl"`
	Review       string    `json:"review"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ReviewStore persists repositories and their review records.
type ReviewStore interface {
	// AddRepository registers a connected repository.
	AddRepository(ctx context.Context, repo *Repository) error

	// FindRepository looks up a repository by owner and name. The bool
	// reports presence; absence is not an error.
	FindRepository(ctx context.Context, owner, name string) (*Repository, bool, error)

	// SaveReview appends a review record.
	SaveReview(ctx context.Context, record *ReviewRecord) error

	// ListReviews returns a repository's reviews, newest first.
	ListReviews(ctx context.Context, repositoryID string) ([]*ReviewRecord, error)
}

// MemReviews is an in-memory ReviewStore for tests and development.
type MemReviews struct {
	mu      sync.RWMutex
	repos   []*Repository
	reviews []*ReviewRecord
}

// NewMemReviews creates an empty in-memory review store.
func NewMemReviews() *MemReviews {
	return &MemReviews{}
}

// AddRepository implements ReviewStore.
func (m *MemReviews) AddRepository(_ context.Context, repo *Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *repo
	m.repos = append(m.repos, &c)
	return nil
}

// FindRepository implements ReviewStore.
func (m *MemReviews) FindRepository(_ context.Context, owner, name string) (*Repository, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, repo := range m.repos {
		if repo.Owner == owner && repo.Name == name {
			c := *repo
			return &c, true, nil
		}
	}
	return nil, false, nil
}

// SaveReview implements ReviewStore.
func (m *MemReviews) SaveReview(_ context.Context, record *ReviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *record
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.reviews = append(m.reviews, &c)
	return nil
}

// ListReviews implements ReviewStore.
func (m *MemReviews) ListReviews(_ context.Context, repositoryID string) ([]*ReviewRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ReviewRecord
	for i := len(m.reviews) - 1; i >= 0; i-- {
		if m.reviews[i].RepositoryID == repositoryID {
			c := *m.reviews[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
