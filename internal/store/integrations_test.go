// ABOUTME: Tests for OAuth app and API key store operations
// ABOUTME: Covers client_id uniqueness, key hash lookup, and revocation

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthApp_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	app := &OAuthApp{
		OrgID:            org.ID,
		Name:             "Mobile App",
		ClientID:         "client-abc",
		ClientSecretHash: "hash-of-secret",
		RedirectURIs:     []string{"https://app.acme.test/callback"},
		Scopes:           []string{"read", "write"},
	}
	require.NoError(t, s.CreateOAuthApp(ctx, app))

	got, err := s.GetOAuthAppByClientID(ctx, "client-abc")
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
	assert.Equal(t, []string{"read", "write"}, got.Scopes)
	assert.Equal(t, []string{"https://app.acme.test/callback"}, got.RedirectURIs)
}

func TestOAuthApp_DuplicateClientID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	require.NoError(t, s.CreateOAuthApp(ctx, &OAuthApp{
		OrgID: org.ID, Name: "A", ClientID: "client-abc", ClientSecretHash: "h",
	}))

	err := s.CreateOAuthApp(ctx, &OAuthApp{
		OrgID: org.ID, Name: "B", ClientID: "client-abc", ClientSecretHash: "h2",
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestOAuthApp_UpdateRotatesSecret(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	app := &OAuthApp{OrgID: org.ID, Name: "App", ClientID: "c1", ClientSecretHash: "old"}
	require.NoError(t, s.CreateOAuthApp(ctx, app))

	app.ClientSecretHash = "new"
	require.NoError(t, s.UpdateOAuthApp(ctx, app))

	got, err := s.GetOAuthApp(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.ClientSecretHash)
}

func TestOAuthApp_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	app := &OAuthApp{OrgID: org.ID, Name: "App", ClientID: "c1", ClientSecretHash: "h"}
	require.NoError(t, s.CreateOAuthApp(ctx, app))

	require.NoError(t, s.DeleteOAuthApp(ctx, app.ID))

	_, err := s.GetOAuthApp(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.DeleteOAuthApp(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKey_CreateAndLookupByHash(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	key := &APIKey{
		OrgID:     org.ID,
		Name:      "CI key",
		KeyHash:   "sha256-of-plaintext",
		Prefix:    "hx_12345",
		CreatedBy: "user-1",
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.GetAPIKeyByHash(ctx, "sha256-of-plaintext")
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.False(t, got.Revoked())
	assert.Nil(t, got.LastUsedAt)
}

func TestAPIKey_Revoke(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	key := &APIKey{OrgID: org.ID, Name: "k", KeyHash: "h1", Prefix: "hx_1", CreatedBy: "u"}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked())

	// Revoking again is a no-op
	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	err = s.RevokeAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKey_Touch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	key := &APIKey{OrgID: org.ID, Name: "k", KeyHash: "h1", Prefix: "hx_1", CreatedBy: "u"}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.TouchAPIKey(ctx, key.ID))

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestAPIKey_List(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	for i := 0; i < 3; i++ {
		key := &APIKey{
			OrgID:     org.ID,
			Name:      generateTestID("key", i),
			KeyHash:   generateTestID("hash", i),
			Prefix:    generateTestID("hx", i),
			CreatedBy: "u",
		}
		require.NoError(t, s.CreateAPIKey(ctx, key))
	}

	keys, err := s.ListAPIKeys(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}
