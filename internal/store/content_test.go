// ABOUTME: Tests for content page store operations
// ABOUTME: Covers slug uniqueness and the draft/published/archived state machine

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPage(t *testing.T, s *SQLiteStore, orgID, slug string) *ContentPage {
	t.Helper()

	page := &ContentPage{
		OrgID:        orgID,
		Slug:         slug,
		Title:        "Title " + slug,
		BodyMarkdown: "# Hello\n\nSome *markdown* body.",
		AuthorID:     "author-1",
	}
	require.NoError(t, s.CreatePage(context.Background(), page))
	return page
}

func TestPage_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	page := createTestPage(t, s, org.ID, "launch")

	assert.Equal(t, PageStatusDraft, page.Status)

	got, err := s.GetPageBySlug(ctx, org.ID, "launch")
	require.NoError(t, err)
	assert.Equal(t, page.ID, got.ID)
	assert.Nil(t, got.PublishedAt)
}

func TestPage_DuplicateSlugSameOrg(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	createTestPage(t, s, org.ID, "launch")

	err := s.CreatePage(ctx, &ContentPage{OrgID: org.ID, Slug: "launch", Title: "Again", AuthorID: "a"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPage_PublishSetsTimestamp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	page := createTestPage(t, s, org.ID, "launch")

	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusPublished))

	got, err := s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, PageStatusPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
}

func TestPage_ArchivedCannotPublish(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	page := createTestPage(t, s, org.ID, "launch")

	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusPublished))
	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusArchived))

	// Archived pages must be re-drafted before publishing again
	err := s.SetPageStatus(ctx, page.ID, PageStatusPublished)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusDraft))
	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusPublished))
}

func TestPage_DraftCannotArchive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	page := createTestPage(t, s, org.ID, "launch")

	err := s.SetPageStatus(ctx, page.ID, PageStatusArchived)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPage_ListByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	draft := createTestPage(t, s, org.ID, "draft-page")
	published := createTestPage(t, s, org.ID, "published-page")
	require.NoError(t, s.SetPageStatus(ctx, published.ID, PageStatusPublished))

	status := PageStatusDraft
	pages, err := s.ListPages(ctx, org.ID, PageFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, draft.ID, pages[0].ID)
}

func TestPage_DeleteOnlyDrafts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	page := createTestPage(t, s, org.ID, "launch")

	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusPublished))

	err := s.DeletePage(ctx, page.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.SetPageStatus(ctx, page.ID, PageStatusDraft))
	require.NoError(t, s.DeletePage(ctx, page.ID))

	_, err = s.GetPage(ctx, page.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPage_Update(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	page := createTestPage(t, s, org.ID, "launch")

	page.Title = "New Title"
	page.BodyMarkdown = "updated body"
	require.NoError(t, s.UpdatePage(ctx, page))

	got, err := s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Title", got.Title)
	assert.Equal(t, "updated body", got.BodyMarkdown)
}
