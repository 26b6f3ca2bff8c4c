package review

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLReviews is a ReviewStore backed by MySQL/MariaDB, for deployments
// that run the workflow store on MySQL and want review history in the same
// database.
type MySQLReviews struct {
	db *sql.DB
}

// NewMySQLReviews creates a MySQL-backed review store, verifying the
// connection and creating the schema if it doesn't exist.
func NewMySQLReviews(dsn string) (*MySQLReviews, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLReviews{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLReviews) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id VARCHAR(64) PRIMARY KEY,
			owner VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			url VARCHAR(512) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			UNIQUE KEY uq_repositories_owner_name (owner, name)
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			repository_id VARCHAR(64) NOT NULL,
			pr_number INT NOT NULL,
			pr_title VARCHAR(512) NOT NULL,
			pr_url VARCHAR(512) NOT NULL,
			review MEDIUMTEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			KEY idx_reviews_repository (repository_id, id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *MySQLReviews) Close() error {
	return s.db.Close()
}

// AddRepository implements ReviewStore.
func (s *MySQLReviews) AddRepository(ctx context.Context, repo *Repository) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO repositories (id, owner, name, url, user_id) VALUES (?, ?, ?, ?, ?)`,
		repo.ID, repo.Owner, repo.Name, repo.URL, repo.UserID)
	if err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

// FindRepository implements ReviewStore.
func (s *MySQLReviews) FindRepository(ctx context.Context, owner, name string) (*Repository, bool, error) {
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
func (s *MySQLReviews) SaveReview(ctx context.Context, record *ReviewRecord) error {
	created := record.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (repository_id, pr_number, pr_title, pr_url, review, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.RepositoryID, record.PRNumber, record.PRTitle, record.PRURL,
		record.Review, record.Status, created.UTC())
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListReviews implements ReviewStore.
func (s *MySQLReviews) ListReviews(ctx context.Context, repositoryID string) ([]*ReviewRecord, error) {
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
		if err := rows.Scan(&rec.RepositoryID, &rec.PRNumber, &rec.PRTitle, &rec.PRURL,
			&rec.Review, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
