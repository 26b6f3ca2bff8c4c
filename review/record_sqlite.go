package review

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteReviews is a ReviewStore backed by SQLite. It can share a database
// file with the workflow run store; the tables do not overlap.
type SQLiteReviews struct {
	db *sql.DB
}

// NewSQLiteReviews opens (creating if needed) a SQLite-backed review store
// at path.
func NewSQLiteReviews(path string) (*SQLiteReviews, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteReviews{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteReviewsFromDB wraps an existing database handle. The caller
// retains ownership of the handle; Close is a no-op in this mode.
func NewSQLiteReviewsFromDB(db *sql.DB) (*SQLiteReviews, error) {
	s := &SQLiteReviews{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReviews) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		user_id TEXT NOT NULL,
		UNIQUE(owner, name)
	);
	CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id TEXT NOT NULL,
		pr_number INTEGER NOT NULL,
		pr_title TEXT NOT NULL,
		pr_url TEXT NOT NULL,
		review TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_repository ON reviews(repository_id, id DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteReviews) Close() error {
	return s.db.Close()
}

// AddRepository implements ReviewStore.
func (s *SQLiteReviews) AddRepository(ctx context.Context, repo *Repository) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, owner, name, url, user_id) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner, name) DO NOTHING`,
		repo.ID, repo.Owner, repo.Name, repo.URL, repo.UserID)
	if err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

// FindRepository implements ReviewStore.
func (s *SQLiteReviews) FindRepository(ctx context.Context, owner, name string) (*Repository, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, url, user_id FROM repositories WHERE owner = ? AND name = ?`,
		owner, name)

	var repo Repository
	err := row.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.URL, &repo.UserID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query repository: %w", err)
	}
	return &repo, true, nil
}

// SaveReview implements ReviewStore.
func (s *SQLiteReviews) SaveReview(ctx context.Context, record *ReviewRecord) error {
	created := record.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (repository_id, pr_number, pr_title, pr_url, review, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.RepositoryID, record.PRNumber, record.PRTitle, record.PRURL,
		record.Review, record.Status, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListReviews implements ReviewStore.
func (s *SQLiteReviews) ListReviews(ctx context.Context, repositoryID string) ([]*ReviewRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository_id, pr_number, pr_title, pr_url, review, status, created_at
		 FROM reviews WHERE repository_id = ? ORDER BY id DESC`,
		repositoryID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []*ReviewRecord
	for rows.Next() {
		var rec ReviewRecord
		var created string
		if err := rows.Scan(&rec.RepositoryID, &rec.PRNumber, &rec.PRTitle, &rec.PRURL,
			&rec.Review, &rec.Status, &created); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse review timestamp: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
