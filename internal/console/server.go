// ABOUTME: Console HTTP API server, route registration, and shared handler helpers
// ABOUTME: Every route under /api/orgs/{org} is bound to the caller's organization

package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/config"
	"github.com/hexlayer/console/internal/metrics"
	"github.com/hexlayer/console/internal/store"
	"github.com/hexlayer/console/internal/webhook"
	"github.com/hexlayer/console/internal/workflow"
)

// Options wires the server's collaborators.
type Options struct {
	Store      *store.SQLiteStore
	Verifier   *auth.JWTVerifier
	Bus        *webhook.Bus
	Dispatcher *webhook.Dispatcher
	Engine     *workflow.Engine
	ChainProxy http.Handler // nil when the chain proxy is disabled
	Config     *config.Config
}

// Server serves the console JSON API.
type Server struct {
	store      *store.SQLiteStore
	verifier   *auth.JWTVerifier
	bus        *webhook.Bus
	dispatcher *webhook.Dispatcher
	engine     *workflow.Engine
	chainProxy http.Handler
	config     *config.Config
	logger     *slog.Logger

	webauthn   *webauthn.WebAuthn
	waSessions *waSessionStore
}

// New creates a console server. WebAuthn setup failure is logged, not fatal;
// passkey routes answer 503 until it is configured.
func New(opts Options) *Server {
	s := &Server{
		store:      opts.Store,
		verifier:   opts.Verifier,
		bus:        opts.Bus,
		dispatcher: opts.Dispatcher,
		engine:     opts.Engine,
		chainProxy: opts.ChainProxy,
		config:     opts.Config,
		logger:     slog.Default().With("component", "console"),
	}

	if err := s.initWebAuthn(); err != nil {
		s.logger.Warn("webauthn unavailable, passkey login disabled", "error", err)
	}
	return s
}

// Close releases background resources.
func (s *Server) Close() {
	if s.waSessions != nil {
		s.waSessions.Close()
	}
}

// Handler returns the fully routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.instrument(mux)
}

// RegisterRoutes attaches all console routes to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	authn := auth.Middleware(s.store, s.verifier)
	admin := auth.RequireRole(store.RoleAdmin)
	owner := auth.RequireRole(store.RoleOwner)

	member := func(h http.HandlerFunc) http.Handler {
		return authn(s.orgScoped(h))
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return authn(admin(s.orgScoped(h)))
	}
	ownerOnly := func(h http.HandlerFunc) http.Handler {
		return authn(owner(s.orgScoped(h)))
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Auth surface
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /api/auth/accept-invite", s.handleAcceptInvite)
	mux.Handle("POST /api/auth/token", authn(http.HandlerFunc(s.handleMintToken)))
	mux.Handle("POST /api/auth/passkey/register/begin", authn(http.HandlerFunc(s.handlePasskeyRegisterBegin)))
	mux.Handle("POST /api/auth/passkey/register/finish", authn(http.HandlerFunc(s.handlePasskeyRegisterFinish)))
	mux.HandleFunc("POST /api/auth/passkey/login/begin", s.handlePasskeyLoginBegin)
	mux.HandleFunc("POST /api/auth/passkey/login/finish", s.handlePasskeyLoginFinish)

	// Organizations
	mux.HandleFunc("POST /api/orgs", s.handleCreateOrg)
	mux.Handle("GET /api/orgs/{org}", member(s.handleGetOrg))
	mux.Handle("PATCH /api/orgs/{org}", ownerOnly(s.handleUpdateOrg))
	mux.Handle("POST /api/orgs/{org}/suspend", ownerOnly(s.handleSuspendOrg))
	mux.HandleFunc("POST /api/orgs/{org}/reactivate", s.handleReactivateOrg)

	// Users and invites
	mux.Handle("GET /api/orgs/{org}/users", member(s.handleListUsers))
	mux.Handle("GET /api/orgs/{org}/users/{id}", member(s.handleGetUser))
	mux.Handle("POST /api/orgs/{org}/users/invite", adminOnly(s.handleInviteUser))
	mux.Handle("PATCH /api/orgs/{org}/users/{id}", adminOnly(s.handleUpdateUser))
	mux.Handle("POST /api/orgs/{org}/users/{id}/disable", adminOnly(s.handleDisableUser))
	mux.Handle("POST /api/orgs/{org}/users/{id}/enable", adminOnly(s.handleEnableUser))

	// Content pages
	mux.Handle("GET /api/orgs/{org}/pages", member(s.handleListPages))
	mux.Handle("POST /api/orgs/{org}/pages", member(s.handleCreatePage))
	mux.Handle("GET /api/orgs/{org}/pages/{id}", member(s.handleGetPage))
	mux.Handle("PATCH /api/orgs/{org}/pages/{id}", member(s.handleUpdatePage))
	mux.Handle("DELETE /api/orgs/{org}/pages/{id}", adminOnly(s.handleDeletePage))
	mux.Handle("POST /api/orgs/{org}/pages/{id}/publish", adminOnly(s.handlePublishPage))
	mux.Handle("POST /api/orgs/{org}/pages/{id}/archive", adminOnly(s.handleArchivePage))
	mux.Handle("GET /api/orgs/{org}/pages/{id}/rendered", member(s.handleRenderPage))

	// OAuth apps
	mux.Handle("GET /api/orgs/{org}/oauth-apps", member(s.handleListOAuthApps))
	mux.Handle("POST /api/orgs/{org}/oauth-apps", adminOnly(s.handleCreateOAuthApp))
	mux.Handle("GET /api/orgs/{org}/oauth-apps/{id}", member(s.handleGetOAuthApp))
	mux.Handle("PATCH /api/orgs/{org}/oauth-apps/{id}", adminOnly(s.handleUpdateOAuthApp))
	mux.Handle("DELETE /api/orgs/{org}/oauth-apps/{id}", adminOnly(s.handleDeleteOAuthApp))
	mux.Handle("POST /api/orgs/{org}/oauth-apps/{id}/rotate-secret", adminOnly(s.handleRotateOAuthSecret))

	// API keys
	mux.Handle("GET /api/orgs/{org}/api-keys", member(s.handleListAPIKeys))
	mux.Handle("POST /api/orgs/{org}/api-keys", adminOnly(s.handleCreateAPIKey))
	mux.Handle("DELETE /api/orgs/{org}/api-keys/{id}", adminOnly(s.handleRevokeAPIKey))

	// Webhooks
	mux.Handle("GET /api/orgs/{org}/webhooks", member(s.handleListWebhooks))
	mux.Handle("POST /api/orgs/{org}/webhooks", adminOnly(s.handleCreateWebhook))
	mux.Handle("GET /api/orgs/{org}/webhooks/{id}", member(s.handleGetWebhook))
	mux.Handle("PATCH /api/orgs/{org}/webhooks/{id}", adminOnly(s.handleUpdateWebhook))
	mux.Handle("DELETE /api/orgs/{org}/webhooks/{id}", adminOnly(s.handleDeleteWebhook))
	mux.Handle("POST /api/orgs/{org}/webhooks/{id}/test", adminOnly(s.handleTestWebhook))
	mux.Handle("GET /api/orgs/{org}/webhooks/{id}/deliveries", member(s.handleListDeliveries))

	// Audit log
	mux.Handle("GET /api/orgs/{org}/audit", member(s.handleListAudit))

	// Workflows
	mux.Handle("GET /api/orgs/{org}/workflows", member(s.handleListWorkflows))
	mux.Handle("POST /api/orgs/{org}/workflows", adminOnly(s.handleCreateWorkflow))
	mux.Handle("GET /api/orgs/{org}/workflows/{id}", member(s.handleGetWorkflow))
	mux.Handle("PATCH /api/orgs/{org}/workflows/{id}", adminOnly(s.handleUpdateWorkflow))
	mux.Handle("DELETE /api/orgs/{org}/workflows/{id}", adminOnly(s.handleDeleteWorkflow))
	mux.Handle("GET /api/orgs/{org}/workflows/{id}/runs", member(s.handleListRuns))
	mux.Handle("POST /api/orgs/{org}/workflows/{id}/runs", adminOnly(s.handleTriggerWorkflow))

	// Facets and diamonds
	mux.Handle("GET /api/orgs/{org}/facets", member(s.handleListFacets))
	mux.Handle("POST /api/orgs/{org}/facets", adminOnly(s.handleCreateFacet))
	mux.Handle("GET /api/orgs/{org}/facets/{id}", member(s.handleGetFacet))
	mux.Handle("PATCH /api/orgs/{org}/facets/{id}", adminOnly(s.handleUpdateFacet))
	mux.Handle("DELETE /api/orgs/{org}/facets/{id}", adminOnly(s.handleDeleteFacet))
	mux.Handle("GET /api/orgs/{org}/diamonds/{addr}", member(s.handleGetDiamond))
	mux.Handle("POST /api/orgs/{org}/diamonds/{addr}/cut", adminOnly(s.handleCutDiamond))
	mux.Handle("PATCH /api/orgs/{org}/diamonds/{addr}/installations/{id}", adminOnly(s.handleUpdateInstallation))

	// Chain proxy
	mux.Handle("POST /api/orgs/{org}/chain/rpc", member(s.handleChainRPC))
	mux.Handle("GET /api/orgs/{org}/chain/usage", member(s.handleChainUsage))

	// Reports
	mux.Handle("GET /api/orgs/{org}/reports/activity", member(s.handleActivityReport))
	mux.Handle("GET /api/orgs/{org}/reports/chain-usage", member(s.handleChainUsageReport))
	mux.Handle("GET /api/orgs/{org}/reports/webhooks", member(s.handleWebhookReport))
}

// orgScoped rejects requests whose {org} path value is not the caller's
// organization. Foreign orgs answer 404 so their existence is not revealed.
func (s *Server) orgScoped(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := auth.FromContext(r.Context())
		if authCtx == nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if r.PathValue("org") != authCtx.OrgID {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests per route pattern and status code.
func (s *Server) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleChainRPC forwards to the configured chain proxy.
func (s *Server) handleChainRPC(w http.ResponseWriter, r *http.Request) {
	if s.chainProxy == nil {
		writeError(w, http.StatusServiceUnavailable, "chain proxy not configured")
		return
	}
	s.chainProxy.ServeHTTP(w, r)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("encoding response", "error", err)
	}
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON decodes a request body, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// actor returns the audit actor for the request: the user ID, or a synthetic
// api-key actor for key-authenticated requests.
func actor(authCtx *auth.AuthContext) string {
	if authCtx.UserID != "" {
		return authCtx.UserID
	}
	return "api-key:" + authCtx.APIKeyID
}

// audit appends an audit entry. Best effort: failures are logged and the
// request proceeds.
func (s *Server) audit(ctx context.Context, authCtx *auth.AuthContext, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		OrgID:       authCtx.OrgID,
		ActorUserID: actor(authCtx),
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Detail:      detail,
	}
	if err := s.store.AppendAuditLog(ctx, entry); err != nil {
		s.logger.Error("appending audit entry", "action", action, "error", err)
	}
}

// publish puts an event on the bus, detached from the request lifecycle so
// webhook deliveries and workflow runs outlive the response.
func (s *Server) publish(ctx context.Context, authCtx *auth.AuthContext, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	event := webhook.NewEvent(authCtx.OrgID, eventType, actor(authCtx), payload)
	s.bus.Publish(context.WithoutCancel(ctx), event)
}

// queryTime parses an RFC3339 query parameter, nil when absent.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &t, nil
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
