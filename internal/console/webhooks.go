// ABOUTME: Webhook endpoint management handlers and delivery history
// ABOUTME: The test route fires a synchronous ping so operators see the outcome

package console

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
	"github.com/hexlayer/console/internal/webhook"
)

type apiWebhook struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAPIWebhook(h *store.Webhook) *apiWebhook {
	return &apiWebhook{
		ID:        h.ID,
		OrgID:     h.OrgID,
		URL:       h.URL,
		Secret:    h.Secret,
		Events:    h.Events,
		Status:    string(h.Status),
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.store.ListWebhooks(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiWebhook, len(hooks))
	for i, h := range hooks {
		out[i] = toAPIWebhook(h)
	}
	writeJSON(w, http.StatusOK, out)
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	secret := req.Secret
	if secret == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		secret = "whsec_" + hex.EncodeToString(raw)
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	hook := &store.Webhook{
		OrgID:  authCtx.OrgID,
		URL:    req.URL,
		Secret: secret,
		Events: req.Events,
	}
	if err := s.store.CreateWebhook(ctx, hook); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCreateWebhook, "webhook", hook.ID, map[string]any{"url": hook.URL})
	writeJSON(w, http.StatusCreated, toAPIWebhook(hook))
}

// getOrgWebhook loads a webhook and hides other orgs' endpoints behind 404.
func (s *Server) getOrgWebhook(w http.ResponseWriter, r *http.Request) *store.Webhook {
	hook, err := s.store.GetWebhook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if hook.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return hook
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	hook := s.getOrgWebhook(w, r)
	if hook == nil {
		return
	}
	writeJSON(w, http.StatusOK, toAPIWebhook(hook))
}

type updateWebhookRequest struct {
	URL    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
	Status *string  `json:"status,omitempty"`
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req updateWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hook := s.getOrgWebhook(w, r)
	if hook == nil {
		return
	}
	ctx := r.Context()

	if req.URL != nil {
		hook.URL = *req.URL
	}
	if req.Events != nil {
		hook.Events = req.Events
	}
	if req.Status != nil {
		switch store.WebhookStatus(*req.Status) {
		case store.WebhookEnabled, store.WebhookDisabled:
			hook.Status = store.WebhookStatus(*req.Status)
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	if err := s.store.UpdateWebhook(ctx, hook); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateWebhook, "webhook", hook.ID, nil)
	writeJSON(w, http.StatusOK, toAPIWebhook(hook))
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	hook := s.getOrgWebhook(w, r)
	if hook == nil {
		return
	}
	ctx := r.Context()

	if err := s.store.DeleteWebhook(ctx, hook.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditDeleteWebhook, "webhook", hook.ID, map[string]any{"url": hook.URL})
	w.WriteHeader(http.StatusNoContent)
}

// handleTestWebhook sends a ping event to the endpoint and reports whether
// it was accepted.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	hook := s.getOrgWebhook(w, r)
	if hook == nil {
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook delivery not configured")
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	event := webhook.NewEvent(authCtx.OrgID, "ping", actor(authCtx), map[string]any{"webhook_id": hook.ID})
	if err := s.dispatcher.DeliverTo(ctx, hook.ID, event); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"delivered": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true})
}

type apiDelivery struct {
	ID             string     `json:"id"`
	WebhookID      string     `json:"webhook_id"`
	EventType      string     `json:"event_type"`
	Attempt        int        `json:"attempt"`
	Status         string     `json:"status"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	Error          string     `json:"error,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	hook := s.getOrgWebhook(w, r)
	if hook == nil {
		return
	}

	deliveries, err := s.store.ListDeliveries(r.Context(), hook.ID, queryInt(r, "limit", 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiDelivery, len(deliveries))
	for i, d := range deliveries {
		out[i] = &apiDelivery{
			ID:             d.ID,
			WebhookID:      d.WebhookID,
			EventType:      d.EventType,
			Attempt:        d.Attempt,
			Status:         string(d.Status),
			ResponseStatus: d.ResponseStatus,
			Error:          d.Error,
			DeliveredAt:    d.DeliveredAt,
			CreatedAt:      d.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
