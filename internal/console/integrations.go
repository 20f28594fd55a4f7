// ABOUTME: OAuth app and API key handlers
// ABOUTME: Plaintext secrets appear exactly once, in the creating response

package console

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
)

type apiOAuthApp struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Name         string    `json:"name"`
	ClientID     string    `json:"client_id"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toAPIOAuthApp(app *store.OAuthApp) *apiOAuthApp {
	return &apiOAuthApp{
		ID:           app.ID,
		OrgID:        app.OrgID,
		Name:         app.Name,
		ClientID:     app.ClientID,
		RedirectURIs: app.RedirectURIs,
		Scopes:       app.Scopes,
		CreatedAt:    app.CreatedAt,
		UpdatedAt:    app.UpdatedAt,
	}
}

// newClientID generates a public OAuth client identifier.
func newClientID() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "hxapp_" + hex.EncodeToString(raw), nil
}

// newClientSecret generates a plaintext client secret and its stored hash.
func newClientSecret() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = "hxsec_" + hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(plaintext))
	return plaintext, hex.EncodeToString(sum[:]), nil
}

func (s *Server) handleListOAuthApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListOAuthApps(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiOAuthApp, len(apps))
	for i, app := range apps {
		out[i] = toAPIOAuthApp(app)
	}
	writeJSON(w, http.StatusOK, out)
}

type createOAuthAppRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

type oauthAppWithSecret struct {
	*apiOAuthApp
	ClientSecret string `json:"client_secret"`
}

func (s *Server) handleCreateOAuthApp(w http.ResponseWriter, r *http.Request) {
	var req createOAuthAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	clientID, err := newClientID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	secret, hash, err := newClientSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	app := &store.OAuthApp{
		OrgID:            authCtx.OrgID,
		Name:             req.Name,
		ClientID:         clientID,
		ClientSecretHash: hash,
		RedirectURIs:     req.RedirectURIs,
		Scopes:           req.Scopes,
	}
	if err := s.store.CreateOAuthApp(ctx, app); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCreateOAuthApp, "oauth_app", app.ID, map[string]any{"name": app.Name})
	writeJSON(w, http.StatusCreated, oauthAppWithSecret{
		apiOAuthApp:  toAPIOAuthApp(app),
		ClientSecret: secret,
	})
}

// getOrgOAuthApp loads an app and hides apps of other orgs behind 404.
func (s *Server) getOrgOAuthApp(w http.ResponseWriter, r *http.Request) *store.OAuthApp {
	app, err := s.store.GetOAuthApp(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if app.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return app
}

func (s *Server) handleGetOAuthApp(w http.ResponseWriter, r *http.Request) {
	app := s.getOrgOAuthApp(w, r)
	if app == nil {
		return
	}
	writeJSON(w, http.StatusOK, toAPIOAuthApp(app))
}

type updateOAuthAppRequest struct {
	Name         *string  `json:"name,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (s *Server) handleUpdateOAuthApp(w http.ResponseWriter, r *http.Request) {
	var req updateOAuthAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	app := s.getOrgOAuthApp(w, r)
	if app == nil {
		return
	}
	ctx := r.Context()

	if req.Name != nil {
		app.Name = *req.Name
	}
	if req.RedirectURIs != nil {
		app.RedirectURIs = req.RedirectURIs
	}
	if req.Scopes != nil {
		app.Scopes = req.Scopes
	}

	if err := s.store.UpdateOAuthApp(ctx, app); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateOAuthApp, "oauth_app", app.ID, nil)
	writeJSON(w, http.StatusOK, toAPIOAuthApp(app))
}

func (s *Server) handleDeleteOAuthApp(w http.ResponseWriter, r *http.Request) {
	app := s.getOrgOAuthApp(w, r)
	if app == nil {
		return
	}
	ctx := r.Context()

	if err := s.store.DeleteOAuthApp(ctx, app.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditDeleteOAuthApp, "oauth_app", app.ID, map[string]any{"name": app.Name})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRotateOAuthSecret(w http.ResponseWriter, r *http.Request) {
	app := s.getOrgOAuthApp(w, r)
	if app == nil {
		return
	}
	ctx := r.Context()

	secret, hash, err := newClientSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	app.ClientSecretHash = hash
	if err := s.store.UpdateOAuthApp(ctx, app); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditRotateOAuthApp, "oauth_app", app.ID, nil)
	s.logger.Info("oauth secret rotated", "app_id", app.ID, "by", actor(authCtx))
	writeJSON(w, http.StatusOK, oauthAppWithSecret{
		apiOAuthApp:  toAPIOAuthApp(app),
		ClientSecret: secret,
	})
}

type apiKeyInfo struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func toAPIKeyInfo(k *store.APIKey) *apiKeyInfo {
	return &apiKeyInfo{
		ID:         k.ID,
		OrgID:      k.OrgID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		CreatedBy:  k.CreatedBy,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
	}
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListAPIKeys(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = toAPIKeyInfo(k)
	}
	writeJSON(w, http.StatusOK, out)
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type apiKeyWithPlaintext struct {
	*apiKeyInfo
	Key string `json:"key"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	plaintext, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	key := &store.APIKey{
		OrgID:     authCtx.OrgID,
		Name:      req.Name,
		KeyHash:   hash,
		Prefix:    prefix,
		CreatedBy: actor(authCtx),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditCreateAPIKey, "api_key", key.ID, map[string]any{"name": key.Name})
	writeJSON(w, http.StatusCreated, apiKeyWithPlaintext{
		apiKeyInfo: toAPIKeyInfo(key),
		Key:        plaintext,
	})
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.store.GetAPIKey(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if key.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	ctx := r.Context()

	if err := s.store.RevokeAPIKey(ctx, key.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditRevokeAPIKey, "api_key", key.ID, map[string]any{"name": key.Name})
	w.WriteHeader(http.StatusNoContent)
}
