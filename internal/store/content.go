// ABOUTME: Marketing content page entity and store methods
// ABOUTME: Pages hold markdown bodies and move through draft/published/archived

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned for disallowed page status changes.
var ErrInvalidTransition = errors.New("invalid status transition")

// PageStatus represents the publication state of a content page.
type PageStatus string

const (
	PageStatusDraft     PageStatus = "draft"
	PageStatusPublished PageStatus = "published"
	PageStatusArchived  PageStatus = "archived"
)

// ContentPage is a marketing content page scoped to an organization.
type ContentPage struct {
	ID           string
	OrgID        string
	Slug         string
	Title        string
	BodyMarkdown string
	Status       PageStatus
	AuthorID     string
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PageFilter specifies filtering options for listing pages.
type PageFilter struct {
	Status *PageStatus
	Limit  int
}

// ContentStore defines methods for content page persistence.
type ContentStore interface {
	CreatePage(ctx context.Context, page *ContentPage) error
	GetPage(ctx context.Context, id string) (*ContentPage, error)
	GetPageBySlug(ctx context.Context, orgID, slug string) (*ContentPage, error)
	UpdatePage(ctx context.Context, page *ContentPage) error
	SetPageStatus(ctx context.Context, id string, status PageStatus) error
	ListPages(ctx context.Context, orgID string, filter PageFilter) ([]*ContentPage, error)
	DeletePage(ctx context.Context, id string) error
}

var _ ContentStore = (*SQLiteStore)(nil)

// CreatePage creates a new content page in draft state.
// Returns ErrDuplicate if the slug is taken within the org.
func (s *SQLiteStore) CreatePage(ctx context.Context, page *ContentPage) error {
	if page.ID == "" {
		page.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	if page.UpdatedAt.IsZero() {
		page.UpdatedAt = now
	}
	if page.Status == "" {
		page.Status = PageStatusDraft
	}

	query := `
		INSERT INTO content_pages (id, org_id, slug, title, body_markdown, status, author_id, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		page.ID,
		page.OrgID,
		page.Slug,
		page.Title,
		page.BodyMarkdown,
		page.Status,
		page.AuthorID,
		nullTime(page.PublishedAt),
		fmtTime(page.CreatedAt),
		fmtTime(page.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting page: %w", err)
	}

	s.logger.Debug("created page", "id", page.ID, "org_id", page.OrgID, "slug", page.Slug)
	return nil
}

const pageColumns = `id, org_id, slug, title, body_markdown, status, author_id, published_at, created_at, updated_at`

// GetPage retrieves a page by ID.
func (s *SQLiteStore) GetPage(ctx context.Context, id string) (*ContentPage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM content_pages WHERE id = ?`, id)
	return scanPage(row)
}

// GetPageBySlug retrieves a page by slug within an organization.
func (s *SQLiteStore) GetPageBySlug(ctx context.Context, orgID, slug string) (*ContentPage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM content_pages WHERE org_id = ? AND slug = ?`, orgID, slug)
	return scanPage(row)
}

// UpdatePage updates title and markdown body. Status changes go through SetPageStatus.
func (s *SQLiteStore) UpdatePage(ctx context.Context, page *ContentPage) error {
	page.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE content_pages
		SET title = ?, body_markdown = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		page.Title,
		page.BodyMarkdown,
		fmtTime(page.UpdatedAt),
		page.ID,
	)
	if err != nil {
		return fmt.Errorf("updating page: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPageStatus transitions a page between draft, published, and archived.
// Allowed: draft->published, published->archived, archived->draft, published->draft.
// Archived pages cannot be published directly; they must be re-drafted first.
func (s *SQLiteStore) SetPageStatus(ctx context.Context, id string, status PageStatus) error {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return err
	}

	if !validPageTransition(page.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, page.Status, status)
	}

	now := time.Now().UTC()
	var publishedAt any
	if status == PageStatusPublished {
		publishedAt = fmtTime(now)
	} else {
		publishedAt = nullTime(page.PublishedAt)
	}

	query := `UPDATE content_pages SET status = ?, published_at = ?, updated_at = ? WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, status, publishedAt, fmtTime(now), id); err != nil {
		return fmt.Errorf("updating page status: %w", err)
	}

	s.logger.Debug("set page status", "id", id, "status", status)
	return nil
}

// validPageTransition reports whether a page status change is allowed.
func validPageTransition(from, to PageStatus) bool {
	switch from {
	case PageStatusDraft:
		return to == PageStatusPublished
	case PageStatusPublished:
		return to == PageStatusArchived || to == PageStatusDraft
	case PageStatusArchived:
		return to == PageStatusDraft
	}
	return false
}

// ListPages returns pages in an organization matching the filter, newest first.
func (s *SQLiteStore) ListPages(ctx context.Context, orgID string, filter PageFilter) ([]*ContentPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + pageColumns + ` FROM content_pages WHERE org_id = ?`
	args := []any{orgID}

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []*ContentPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pages: %w", err)
	}
	return pages, nil
}

// DeletePage removes a page. Only drafts can be deleted.
func (s *SQLiteStore) DeletePage(ctx context.Context, id string) error {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return err
	}
	if page.Status != PageStatusDraft {
		return fmt.Errorf("%w: only draft pages can be deleted", ErrInvalidTransition)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM content_pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting page: %w", err)
	}
	return nil
}

// scanPage scans a row into a ContentPage.
func scanPage(scanner interface{ Scan(dest ...any) error }) (*ContentPage, error) {
	var page ContentPage
	var statusStr, createdStr, updatedStr string
	var publishedAt sql.NullString

	err := scanner.Scan(
		&page.ID,
		&page.OrgID,
		&page.Slug,
		&page.Title,
		&page.BodyMarkdown,
		&statusStr,
		&page.AuthorID,
		&publishedAt,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning page: %w", err)
	}

	page.Status = PageStatus(statusStr)

	if page.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	if page.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if page.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &page, nil
}
