// ABOUTME: Tests for organization store operations
// ABOUTME: Covers CRUD, slug uniqueness, and suspend/reactivate

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrganization_Create(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := &Organization{
		Slug: "acme",
		Name: "Acme Corp",
		Plan: OrgPlanPro,
		Settings: map[string]any{
			"theme": "dark",
		},
	}

	err := s.CreateOrganization(ctx, org)
	require.NoError(t, err)

	// Should have generated ID and timestamps
	assert.NotEmpty(t, org.ID)
	assert.False(t, org.CreatedAt.IsZero())
	assert.Equal(t, OrgStatusActive, org.Status)

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Slug)
	assert.Equal(t, OrgPlanPro, got.Plan)
	assert.Equal(t, "dark", got.Settings["theme"])
}

func TestOrganization_Create_DuplicateSlug(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createTestOrg(t, s, "acme")

	err := s.CreateOrganization(ctx, &Organization{Slug: "acme", Name: "Other"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestOrganization_GetBySlug(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	got, err := s.GetOrganizationBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, org.ID, got.ID)

	_, err = s.GetOrganizationBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrganization_Update(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")
	org.Name = "Acme Renamed"
	org.Plan = OrgPlanEnterprise

	require.NoError(t, s.UpdateOrganization(ctx, org))

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", got.Name)
	assert.Equal(t, OrgPlanEnterprise, got.Plan)
}

func TestOrganization_Update_NotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.UpdateOrganization(context.Background(), &Organization{ID: "missing", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrganization_SuspendAndReactivate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	require.NoError(t, s.SetOrganizationStatus(ctx, org.ID, OrgStatusSuspended))

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, OrgStatusSuspended, got.Status)

	require.NoError(t, s.SetOrganizationStatus(ctx, org.ID, OrgStatusActive))

	got, err = s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, OrgStatusActive, got.Status)
}

func TestOrganization_List_StatusFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	active := createTestOrg(t, s, "active-org")
	suspended := createTestOrg(t, s, "suspended-org")
	require.NoError(t, s.SetOrganizationStatus(ctx, suspended.ID, OrgStatusSuspended))

	status := OrgStatusActive
	orgs, err := s.ListOrganizations(ctx, OrgFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, active.ID, orgs[0].ID)

	all, err := s.ListOrganizations(ctx, OrgFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
