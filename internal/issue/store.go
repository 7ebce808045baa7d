// Package issue stores published newsletter issues. Issues are immutable
// once inserted.
package issue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sungwon/newsletter/internal/storage"
)

// ErrNotFound is returned when no issue has the requested id.
var ErrNotFound = errors.New("newsletter issue not found")

// Issue is a published newsletter.
type Issue struct {
	ID          uuid.UUID
	Title       string
	TextContent string
	HTMLContent string
	PublishedAt time.Time
}

// NewIssue is the content of an issue about to be published.
type NewIssue struct {
	Title       string
	TextContent string
	HTMLContent string
}

// Store reads and writes newsletter_issues.
type Store struct {
	db storage.DBTX
}

// NewStore creates a Store whose reads go through db.
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

// Insert writes a new issue through q, which is normally the publish
// transaction so the issue commits together with its outbox rows.
func (s *Store) Insert(ctx context.Context, q storage.DBTX, n NewIssue) (Issue, error) {
	iss := Issue{
		ID:          uuid.New(),
		Title:       n.Title,
		TextContent: n.TextContent,
		HTMLContent: n.HTMLContent,
	}

	err := q.QueryRow(ctx,
		`INSERT INTO newsletter_issues (newsletter_issue_id, title, text_content, html_content, published_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING published_at`,
		iss.ID, iss.Title, iss.TextContent, iss.HTMLContent,
	).Scan(&iss.PublishedAt)
	if err != nil {
		return Issue{}, fmt.Errorf("insert newsletter issue: %w", err)
	}
	return iss, nil
}

// Get loads an issue by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Issue, error) {
	var iss Issue
	err := s.db.QueryRow(ctx,
		`SELECT newsletter_issue_id, title, text_content, html_content, published_at
		 FROM newsletter_issues
		 WHERE newsletter_issue_id = $1`, id,
	).Scan(&iss.ID, &iss.Title, &iss.TextContent, &iss.HTMLContent, &iss.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get newsletter issue %s: %w", id, err)
	}
	return &iss, nil
}
