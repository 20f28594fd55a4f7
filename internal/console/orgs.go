// ABOUTME: Organization handlers covering signup, profile, and lifecycle
// ABOUTME: Suspension locks out every surface except reactivation by an owner

package console

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
)

type apiOrg struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Name      string         `json:"name"`
	Plan      string         `json:"plan"`
	Status    string         `json:"status"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toAPIOrg(org *store.Organization) *apiOrg {
	return &apiOrg{
		ID:        org.ID,
		Slug:      org.Slug,
		Name:      org.Name,
		Plan:      string(org.Plan),
		Status:    string(org.Status),
		Settings:  org.Settings,
		CreatedAt: org.CreatedAt,
		UpdatedAt: org.UpdatedAt,
	}
}

type createOrgRequest struct {
	Slug             string `json:"slug"`
	Name             string `json:"name"`
	OwnerEmail       string `json:"owner_email"`
	OwnerPassword    string `json:"owner_password"`
	OwnerDisplayName string `json:"owner_display_name,omitempty"`
}

type createOrgResponse struct {
	Org   *apiOrg  `json:"org"`
	Owner *apiUser `json:"owner"`
	Token string   `json:"token"`
}

// handleCreateOrg is the tenant signup endpoint: it creates the organization
// together with its first owner and returns a JWT for immediate use.
func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Slug == "" || req.Name == "" || req.OwnerEmail == "" || req.OwnerPassword == "" {
		writeError(w, http.StatusBadRequest, "slug, name, owner_email, and owner_password are required")
		return
	}

	ctx := r.Context()
	org := &store.Organization{
		Slug: req.Slug,
		Name: req.Name,
		Plan: store.OrgPlanFree,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		writeStoreError(w, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.OwnerPassword), s.bcryptCost())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	owner := &store.User{
		OrgID:        org.ID,
		Email:        req.OwnerEmail,
		PasswordHash: string(hashed),
		DisplayName:  req.OwnerDisplayName,
		Role:         store.RoleOwner,
		Status:       store.UserStatusActive,
	}
	if err := s.store.CreateUser(ctx, owner); err != nil {
		writeStoreError(w, err)
		return
	}

	token, err := s.verifier.Generate(owner.ID, org.ID, s.config.Auth.TokenTTL)
	if err != nil {
		s.logger.Error("minting signup token", "org_id", org.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	authCtx := &auth.AuthContext{UserID: owner.ID, OrgID: org.ID, Role: string(owner.Role)}
	s.audit(ctx, authCtx, store.AuditCreateOrg, "org", org.ID, map[string]any{"slug": org.Slug})
	s.audit(ctx, authCtx, store.AuditCreateUser, "user", owner.ID, map[string]any{"email": owner.Email})

	s.logger.Info("organization created", "org_id", org.ID, "slug", org.Slug)
	writeJSON(w, http.StatusCreated, createOrgResponse{
		Org:   toAPIOrg(org),
		Owner: toAPIUser(owner),
		Token: token,
	})
}

func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.store.GetOrganization(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIOrg(org))
}

type updateOrgRequest struct {
	Name     *string        `json:"name,omitempty"`
	Plan     *string        `json:"plan,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

func (s *Server) handleUpdateOrg(w http.ResponseWriter, r *http.Request) {
	var req updateOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	org, err := s.store.GetOrganization(ctx, r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if req.Name != nil {
		org.Name = *req.Name
	}
	if req.Plan != nil {
		switch store.OrgPlan(*req.Plan) {
		case store.OrgPlanFree, store.OrgPlanPro, store.OrgPlanEnterprise:
			org.Plan = store.OrgPlan(*req.Plan)
		default:
			writeError(w, http.StatusBadRequest, "invalid plan")
			return
		}
	}
	if req.Settings != nil {
		org.Settings = req.Settings
	}

	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateOrg, "org", org.ID, nil)
	writeJSON(w, http.StatusOK, toAPIOrg(org))
}

func (s *Server) handleSuspendOrg(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := r.PathValue("org")

	if err := s.store.SetOrganizationStatus(ctx, orgID, store.OrgStatusSuspended); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditSuspendOrg, "org", orgID, nil)
	s.logger.Info("organization suspended", "org_id", orgID)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.OrgStatusSuspended)})
}

// handleReactivateOrg lifts a suspension. The standard middleware rejects
// credentials of suspended orgs, so this route verifies the bearer JWT
// itself and only checks that the caller is an owner of the org.
func (s *Server) handleReactivateOrg(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("org")
	ctx := r.Context()

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		writeError(w, http.StatusUnauthorized, "missing authorization header")
		return
	}

	claims, err := s.verifier.Verify(header[len(prefix):])
	if err != nil || claims.OrgID != orgID {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil || user.OrgID != orgID || user.Status != store.UserStatusActive {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if user.Role != store.RoleOwner {
		writeError(w, http.StatusForbidden, "owner role required")
		return
	}

	if err := s.store.SetOrganizationStatus(ctx, orgID, store.OrgStatusActive); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := &auth.AuthContext{UserID: user.ID, OrgID: orgID, Role: string(user.Role)}
	s.audit(ctx, authCtx, store.AuditReactivateOrg, "org", orgID, nil)
	s.logger.Info("organization reactivated", "org_id", orgID)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.OrgStatusActive)})
}
