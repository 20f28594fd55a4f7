// ABOUTME: Console API test fixture and auth, org, and user handler tests
// ABOUTME: Drives the full handler stack against a real SQLite store

package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/config"
	"github.com/hexlayer/console/internal/store"
	"github.com/hexlayer/console/internal/webhook"
	"github.com/hexlayer/console/internal/workflow"
)

type fixture struct {
	t       *testing.T
	handler http.Handler
	store   *store.SQLiteStore
	server  *Server
}

func setupConsole(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "console-test-secret"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.SessionTTL = time.Hour

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	bus := webhook.NewBus()
	dispatcher := webhook.NewDispatcher(st, webhook.DispatcherOptions{Workers: 1, RetrySpacing: time.Millisecond})
	t.Cleanup(dispatcher.Close)
	engine := workflow.NewEngine(st, dispatcher)
	bus.Subscribe(dispatcher.Publish)
	bus.Subscribe(engine.Handle)

	srv := New(Options{
		Store:      st,
		Verifier:   verifier,
		Bus:        bus,
		Dispatcher: dispatcher,
		Engine:     engine,
		Config:     cfg,
	})
	t.Cleanup(srv.Close)

	return &fixture{t: t, handler: srv.Handler(), store: st, server: srv}
}

// do runs one request through the handler stack. A non-empty token is sent
// as a bearer credential.
func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

type signupResult struct {
	Org   *apiOrg  `json:"org"`
	Owner *apiUser `json:"owner"`
	Token string   `json:"token"`
}

// signup creates an org with an owner and returns the result with a JWT.
func (f *fixture) signup(slug string) signupResult {
	f.t.Helper()

	rec := f.do(http.MethodPost, "/api/orgs", "", map[string]string{
		"slug":           slug,
		"name":           slug + " inc",
		"owner_email":    "owner@" + slug + ".test",
		"owner_password": "hunter22",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[signupResult](f.t, rec)
}

// addUser invites and accepts a user with the given role, returning their JWT.
func (f *fixture) addUser(org signupResult, email string, role store.UserRole) (string, *apiUser) {
	f.t.Helper()

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/users/invite", org.Token, map[string]string{
		"email": email,
		"role":  string(role),
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	invite := decodeBody[inviteResponse](f.t, rec)

	rec = f.do(http.MethodPost, "/api/auth/accept-invite", "", map[string]string{
		"invite_id": invite.InviteID,
		"password":  "s3cret-pass",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	accepted := decodeBody[loginResponse](f.t, rec)
	return accepted.Token, accepted.User
}

func TestHealthz(t *testing.T) {
	f := setupConsole(t)

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSignupAndLogin(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	assert.Equal(t, "acme", org.Org.Slug)
	assert.Equal(t, "owner", org.Owner.Role)
	assert.NotEmpty(t, org.Token)

	rec := f.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"org_slug": "acme",
		"email":    "owner@acme.test",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Session cookie set
	cookies := rec.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == auth.SessionCookie && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "session cookie missing")

	rec = f.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"org_slug": "acme",
		"email":    "owner@acme.test",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDuplicateSlugRejected(t *testing.T) {
	f := setupConsole(t)
	f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs", "", map[string]string{
		"slug":           "acme",
		"name":           "imposter",
		"owner_email":    "x@x.test",
		"owner_password": "pw",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCrossOrgAccessIs404(t *testing.T) {
	f := setupConsole(t)
	acme := f.signup("acme")
	rival := f.signup("rival")

	rec := f.do(http.MethodGet, "/api/orgs/"+rival.Org.ID+"/users", acme.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/orgs/"+acme.Org.ID+"/users", acme.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInviteAcceptFlow(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/users/invite", org.Token, map[string]string{
		"email": "dev@acme.test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	invite := decodeBody[inviteResponse](t, rec)
	assert.Equal(t, "member", invite.Role)

	rec = f.do(http.MethodPost, "/api/auth/accept-invite", "", map[string]string{
		"invite_id":    invite.InviteID,
		"password":     "devpass1",
		"display_name": "Dev",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	accepted := decodeBody[loginResponse](t, rec)
	assert.Equal(t, "active", accepted.User.Status)
	assert.Equal(t, "member", accepted.User.Role)

	// An invite is single use
	rec = f.do(http.MethodPost, "/api/auth/accept-invite", "", map[string]string{
		"invite_id": invite.InviteID,
		"password":  "again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMemberCannotInvite(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	memberToken, _ := f.addUser(org, "member@acme.test", store.RoleMember)

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/users/invite", memberToken, map[string]string{
		"email": "other@acme.test",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLastOwnerProtection(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/users/"+org.Owner.ID+"/disable", org.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPatch, "/api/orgs/"+org.Org.ID+"/users/"+org.Owner.ID, org.Token, map[string]string{
		"role": "member",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// With a second owner the demotion goes through
	f.addUser(org, "co@acme.test", store.RoleOwner)
	rec = f.do(http.MethodPatch, "/api/orgs/"+org.Org.ID+"/users/"+org.Owner.ID, org.Token, map[string]string{
		"role": "admin",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDisableUserLocksThemOut(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	memberToken, member := f.addUser(org, "member@acme.test", store.RoleMember)

	rec := f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/users", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/users/"+member.ID+"/disable", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/users", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/users/"+member.ID+"/enable", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/users", memberToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSuspendAndReactivate(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/suspend", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Every authenticated surface is now rejected
	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/users", org.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Except reactivation by an owner
	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/reactivate", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID+"/users", org.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReactivateRequiresOwner(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")
	adminToken, _ := f.addUser(org, "admin@acme.test", store.RoleAdmin)

	rec := f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/suspend", org.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/orgs/"+org.Org.ID+"/reactivate", adminToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMintToken(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPost, "/api/auth/token", org.Token, map[string]string{"ttl": "15m"})
	require.Equal(t, http.StatusOK, rec.Code)
	minted := decodeBody[mintTokenResponse](t, rec)
	require.NotEmpty(t, minted.Token)

	// The minted token authenticates
	rec = f.do(http.MethodGet, "/api/orgs/"+org.Org.ID, minted.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/token", org.Token, map[string]string{"ttl": "100000h"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateOrg(t *testing.T) {
	f := setupConsole(t)
	org := f.signup("acme")

	rec := f.do(http.MethodPatch, "/api/orgs/"+org.Org.ID, org.Token, map[string]any{
		"name": "Acme Corp",
		"plan": "pro",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[apiOrg](t, rec)
	assert.Equal(t, "Acme Corp", updated.Name)
	assert.Equal(t, "pro", updated.Plan)

	rec = f.do(http.MethodPatch, "/api/orgs/"+org.Org.ID, org.Token, map[string]any{
		"plan": "platinum",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignupUsesConfiguredBcryptCost(t *testing.T) {
	f := setupConsole(t)
	f.server.config.Auth.BcryptCost = bcrypt.MinCost

	org := f.signup("acme")

	user, err := f.store.GetUser(context.Background(), org.Owner.ID)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(user.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}
