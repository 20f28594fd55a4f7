// ABOUTME: Tests for the HTTP auth middleware using a real SQLite store
// ABOUTME: Covers JWT, API key, session cookie, and role enforcement paths

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer/console/internal/store"
)

type authFixture struct {
	store    *store.SQLiteStore
	verifier *JWTVerifier
	org      *store.Organization
	user     *store.User
}

func setupAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	org := &store.Organization{Slug: "acme", Name: "Acme"}
	require.NoError(t, s.CreateOrganization(ctx, org))

	user := &store.User{
		OrgID:  org.ID,
		Email:  "alice@acme.test",
		Role:   store.RoleAdmin,
		Status: store.UserStatusActive,
	}
	require.NoError(t, s.CreateUser(ctx, user))

	return &authFixture{
		store:    s,
		verifier: NewJWTVerifier([]byte("test-secret")),
		org:      org,
		user:     user,
	}
}

// serveAuth runs one request through the middleware and returns the recorder
// plus the AuthContext seen by the inner handler (nil if it never ran).
func serveAuth(t *testing.T, f *authFixture, decorate func(r *http.Request)) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()

	var seen *AuthContext
	handler := Middleware(f.store, f.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orgs", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddleware_ValidJWT(t *testing.T) {
	f := setupAuthFixture(t)

	token, err := f.verifier.Generate(f.user.ID, f.org.ID, time.Hour)
	require.NoError(t, err)

	rec, seen := serveAuth(t, f, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, f.user.ID, seen.UserID)
	assert.Equal(t, f.org.ID, seen.OrgID)
	assert.Equal(t, "admin", seen.Role)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	f := setupAuthFixture(t)

	rec, seen := serveAuth(t, f, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
}

func TestMiddleware_OrgClaimMismatch(t *testing.T) {
	f := setupAuthFixture(t)

	token, err := f.verifier.Generate(f.user.ID, "other-org", time.Hour)
	require.NoError(t, err)

	rec, _ := serveAuth(t, f, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_DisabledUser(t *testing.T) {
	f := setupAuthFixture(t)
	ctx := context.Background()

	f.user.Status = store.UserStatusDisabled
	require.NoError(t, f.store.UpdateUser(ctx, f.user))

	token, err := f.verifier.Generate(f.user.ID, f.org.ID, time.Hour)
	require.NoError(t, err)

	rec, _ := serveAuth(t, f, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_SuspendedOrg(t *testing.T) {
	f := setupAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetOrganizationStatus(ctx, f.org.ID, store.OrgStatusSuspended))

	token, err := f.verifier.Generate(f.user.ID, f.org.ID, time.Hour)
	require.NoError(t, err)

	rec, _ := serveAuth(t, f, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_APIKey(t *testing.T) {
	f := setupAuthFixture(t)
	ctx := context.Background()

	plaintext, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)

	key := &store.APIKey{
		OrgID:     f.org.ID,
		Name:      "ci",
		KeyHash:   hash,
		Prefix:    prefix,
		CreatedBy: f.user.ID,
	}
	require.NoError(t, f.store.CreateAPIKey(ctx, key))

	rec, seen := serveAuth(t, f, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+plaintext)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Empty(t, seen.UserID)
	assert.Equal(t, f.org.ID, seen.OrgID)
	assert.Equal(t, key.ID, seen.APIKeyID)
	assert.Equal(t, "member", seen.Role)

	// Key usage is recorded
	got, err := f.store.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestMiddleware_RevokedAPIKey(t *testing.T) {
	f := setupAuthFixture(t)
	ctx := context.Background()

	plaintext, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)

	key := &store.APIKey{OrgID: f.org.ID, Name: "ci", KeyHash: hash, Prefix: prefix, CreatedBy: f.user.ID}
	require.NoError(t, f.store.CreateAPIKey(ctx, key))
	require.NoError(t, f.store.RevokeAPIKey(ctx, key.ID))

	rec, _ := serveAuth(t, f, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+plaintext)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_SessionCookie(t *testing.T) {
	f := setupAuthFixture(t)
	ctx := context.Background()

	session := &store.Session{
		ID:        "session-1",
		UserID:    f.user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.store.CreateSession(ctx, session))

	rec, seen := serveAuth(t, f, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "session-1"})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, f.user.ID, seen.UserID)
}

func TestMiddleware_ExpiredSessionCookie(t *testing.T) {
	f := setupAuthFixture(t)
	ctx := context.Background()

	session := &store.Session{
		ID:        "expired",
		UserID:    f.user.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, f.store.CreateSession(ctx, session))

	rec, _ := serveAuth(t, f, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "expired"})
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole(store.RoleAdmin)(inner)

	serve := func(authCtx *AuthContext) int {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks", nil)
		if authCtx != nil {
			req = req.WithContext(WithAuth(req.Context(), authCtx))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&AuthContext{Role: "member"}))
	assert.Equal(t, http.StatusOK, serve(&AuthContext{Role: "admin"}))
	assert.Equal(t, http.StatusOK, serve(&AuthContext{Role: "owner"}))
}
