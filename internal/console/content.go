// ABOUTME: Marketing content page handlers: CRUD, publish/archive, HTML render
// ABOUTME: Markdown bodies are rendered to HTML with goldmark (GFM enabled)

package console

import (
	"bytes"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
)

// markdown renders page bodies. GFM covers the tables and strikethrough
// marketing pages actually use.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type apiPage struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	BodyMarkdown string     `json:"body_markdown"`
	Status       string     `json:"status"`
	AuthorID     string     `json:"author_id"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toAPIPage(p *store.ContentPage) *apiPage {
	return &apiPage{
		ID:           p.ID,
		OrgID:        p.OrgID,
		Slug:         p.Slug,
		Title:        p.Title,
		BodyMarkdown: p.BodyMarkdown,
		Status:       string(p.Status),
		AuthorID:     p.AuthorID,
		PublishedAt:  p.PublishedAt,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	filter := store.PageFilter{Limit: queryInt(r, "limit", 0)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.PageStatus(raw)
		filter.Status = &status
	}

	pages, err := s.store.ListPages(r.Context(), r.PathValue("org"), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiPage, len(pages))
	for i, p := range pages {
		out[i] = toAPIPage(p)
	}
	writeJSON(w, http.StatusOK, out)
}

type createPageRequest struct {
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	BodyMarkdown string `json:"body_markdown"`
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Slug == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "slug and title are required")
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	page := &store.ContentPage{
		OrgID:        authCtx.OrgID,
		Slug:         req.Slug,
		Title:        req.Title,
		BodyMarkdown: req.BodyMarkdown,
		AuthorID:     actor(authCtx),
	}
	if err := s.store.CreatePage(ctx, page); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCreatePage, "page", page.ID, map[string]any{"slug": page.Slug})
	writeJSON(w, http.StatusCreated, toAPIPage(page))
}

// getOrgPage loads a page and hides pages of other orgs behind 404.
func (s *Server) getOrgPage(w http.ResponseWriter, r *http.Request) *store.ContentPage {
	page, err := s.store.GetPage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if page.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return page
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	page := s.getOrgPage(w, r)
	if page == nil {
		return
	}
	writeJSON(w, http.StatusOK, toAPIPage(page))
}

type updatePageRequest struct {
	Title        *string `json:"title,omitempty"`
	BodyMarkdown *string `json:"body_markdown,omitempty"`
}

func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req updatePageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	page := s.getOrgPage(w, r)
	if page == nil {
		return
	}
	ctx := r.Context()

	if req.Title != nil {
		page.Title = *req.Title
	}
	if req.BodyMarkdown != nil {
		page.BodyMarkdown = *req.BodyMarkdown
	}

	if err := s.store.UpdatePage(ctx, page); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdatePage, "page", page.ID, map[string]any{"slug": page.Slug})
	writeJSON(w, http.StatusOK, toAPIPage(page))
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	page := s.getOrgPage(w, r)
	if page == nil {
		return
	}
	ctx := r.Context()

	if err := s.store.DeletePage(ctx, page.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditDeletePage, "page", page.ID, map[string]any{"slug": page.Slug})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublishPage(w http.ResponseWriter, r *http.Request) {
	s.transitionPage(w, r, store.PageStatusPublished, store.AuditPublishPage, "page.published")
}

func (s *Server) handleArchivePage(w http.ResponseWriter, r *http.Request) {
	s.transitionPage(w, r, store.PageStatusArchived, store.AuditArchivePage, "page.archived")
}

func (s *Server) transitionPage(w http.ResponseWriter, r *http.Request, to store.PageStatus, action store.AuditAction, eventType string) {
	page := s.getOrgPage(w, r)
	if page == nil {
		return
	}
	ctx := r.Context()

	if err := s.store.SetPageStatus(ctx, page.ID, to); err != nil {
		writeStoreError(w, err)
		return
	}

	updated, err := s.store.GetPage(ctx, page.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, action, "page", page.ID, map[string]any{"slug": page.Slug})
	s.publish(ctx, authCtx, eventType, map[string]any{"page_id": page.ID, "slug": page.Slug})
	writeJSON(w, http.StatusOK, toAPIPage(updated))
}

type renderedPage struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	HTML  string `json:"html"`
}

func (s *Server) handleRenderPage(w http.ResponseWriter, r *http.Request) {
	page := s.getOrgPage(w, r)
	if page == nil {
		return
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(page.BodyMarkdown), &buf); err != nil {
		s.logger.Error("rendering markdown", "page_id", page.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}

	writeJSON(w, http.StatusOK, renderedPage{
		Slug:  page.Slug,
		Title: page.Title,
		HTML:  buf.String(),
	})
}
