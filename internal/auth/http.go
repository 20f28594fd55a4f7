// ABOUTME: HTTP middleware resolving bearer tokens, API keys, and session cookies
// ABOUTME: Attaches an org-scoped AuthContext to the request context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hexlayer/console/internal/store"
)

// SessionCookie is the name of the browser session cookie.
const SessionCookie = "console_session"

// IdentityStore is the subset of the store the middleware needs to resolve
// credentials into identities.
type IdentityStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error)
	TouchAPIKey(ctx context.Context, id string) error
	GetOrganization(ctx context.Context, id string) (*store.Organization, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// checkUserStatus validates that a user may authenticate.
// Returns an error message (empty if allowed).
func checkUserStatus(status store.UserStatus) string {
	switch status {
	case store.UserStatusActive:
		return ""
	case store.UserStatusInvited:
		return "user has not accepted their invite"
	case store.UserStatusDisabled:
		return "user has been disabled"
	default:
		return "unknown user status"
	}
}

// Middleware resolves the request credential into an AuthContext.
//
// Credentials are tried in order: Authorization bearer (API key or JWT),
// then the session cookie. Requests from suspended organizations are
// rejected regardless of credential validity.
func Middleware(idents IdentityStore, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg, status := resolve(r, idents, verifier)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// resolve turns request credentials into an AuthContext or an error message
// with its HTTP status code.
func resolve(r *http.Request, idents IdentityStore, verifier TokenVerifier) (*AuthContext, string, int) {
	if header := r.Header.Get("Authorization"); header != "" {
		credential, errMsg := extractBearerToken(header)
		if errMsg != "" {
			return nil, errMsg, http.StatusUnauthorized
		}
		if LooksLikeAPIKey(credential) {
			return resolveAPIKey(r.Context(), idents, credential)
		}
		return resolveJWT(r.Context(), idents, verifier, credential)
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return resolveSession(r.Context(), idents, cookie.Value)
	}

	return nil, "missing authorization header", http.StatusUnauthorized
}

func resolveAPIKey(ctx context.Context, idents IdentityStore, credential string) (*AuthContext, string, int) {
	key, err := idents.GetAPIKeyByHash(ctx, HashAPIKey(credential))
	if err != nil {
		return nil, "invalid api key", http.StatusUnauthorized
	}
	if key.Revoked() {
		return nil, "api key has been revoked", http.StatusUnauthorized
	}

	if errMsg, status := checkOrg(ctx, idents, key.OrgID); errMsg != "" {
		return nil, errMsg, status
	}

	// Best effort; lookup already succeeded
	_ = idents.TouchAPIKey(ctx, key.ID)

	return &AuthContext{
		OrgID:    key.OrgID,
		Role:     string(store.RoleMember),
		APIKeyID: key.ID,
	}, "", 0
}

func resolveJWT(ctx context.Context, idents IdentityStore, verifier TokenVerifier, credential string) (*AuthContext, string, int) {
	claims, err := verifier.Verify(credential)
	if err != nil {
		return nil, "invalid token", http.StatusUnauthorized
	}
	return resolveUser(ctx, idents, claims.UserID, claims.OrgID)
}

func resolveSession(ctx context.Context, idents IdentityStore, sessionID string) (*AuthContext, string, int) {
	session, err := idents.GetSession(ctx, sessionID)
	if err != nil {
		return nil, "invalid session", http.StatusUnauthorized
	}
	return resolveUser(ctx, idents, session.UserID, "")
}

// resolveUser loads the user, validates status and org, and builds the context.
// An empty expectOrg skips the claim/org cross-check (session auth).
func resolveUser(ctx context.Context, idents IdentityStore, userID, expectOrg string) (*AuthContext, string, int) {
	user, err := idents.GetUser(ctx, userID)
	if err != nil {
		return nil, "user not found", http.StatusUnauthorized
	}
	if expectOrg != "" && user.OrgID != expectOrg {
		return nil, "invalid token", http.StatusUnauthorized
	}

	if errMsg := checkUserStatus(user.Status); errMsg != "" {
		status := http.StatusForbidden
		if errMsg == "unknown user status" {
			status = http.StatusInternalServerError
		}
		return nil, errMsg, status
	}

	if errMsg, status := checkOrg(ctx, idents, user.OrgID); errMsg != "" {
		return nil, errMsg, status
	}

	return &AuthContext{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   string(user.Role),
	}, "", 0
}

// checkOrg rejects identities belonging to suspended organizations.
func checkOrg(ctx context.Context, idents IdentityStore, orgID string) (string, int) {
	org, err := idents.GetOrganization(ctx, orgID)
	if err != nil {
		return "organization not found", http.StatusUnauthorized
	}
	if org.Status == store.OrgStatusSuspended {
		return "organization is suspended", http.StatusForbidden
	}
	return "", 0
}

// roleRank orders roles for RequireRole comparisons.
func roleRank(role string) int {
	switch role {
	case string(store.RoleOwner):
		return 3
	case string(store.RoleAdmin):
		return 2
	case string(store.RoleMember):
		return 1
	default:
		return 0
	}
}

// RequireRole creates an HTTP middleware that requires at least the given role.
// Must be used after Middleware.
func RequireRole(minimum store.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if roleRank(authCtx.Role) < roleRank(string(minimum)) {
				http.Error(w, `{"error":"`+string(minimum)+` role required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
