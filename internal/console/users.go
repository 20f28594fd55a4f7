// ABOUTME: User management handlers: listing, invites, role changes, lifecycle
// ABOUTME: Role changes and disabling guard against removing the last owner

package console

import (
	"net/http"
	"time"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
)

type apiUser struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toAPIUser(u *store.User) *apiUser {
	return &apiUser{
		ID:          u.ID,
		OrgID:       u.OrgID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Status:      string(u.Status),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context(), r.PathValue("org"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]*apiUser, len(users))
	for i, u := range users {
		out[i] = toAPIUser(u)
	}
	writeJSON(w, http.StatusOK, out)
}

// getOrgUser loads a user and hides users of other orgs behind 404.
func (s *Server) getOrgUser(w http.ResponseWriter, r *http.Request) *store.User {
	user, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if user.OrgID != r.PathValue("org") {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return user
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user := s.getOrgUser(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, toAPIUser(user))
}

type inviteUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type inviteResponse struct {
	InviteID  string    `json:"invite_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// inviteTTL is how long an invite stays usable.
const inviteTTL = 7 * 24 * time.Hour

func (s *Server) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	role := store.UserRole(req.Role)
	if req.Role == "" {
		role = store.RoleMember
	}
	switch role {
	case store.RoleOwner, store.RoleAdmin, store.RoleMember:
	default:
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)

	invite := &store.Invite{
		OrgID:     authCtx.OrgID,
		Email:     req.Email,
		Role:      role,
		CreatedBy: actor(authCtx),
		ExpiresAt: time.Now().UTC().Add(inviteTTL),
	}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(ctx, authCtx, store.AuditInviteUser, "invite", invite.ID, map[string]any{"email": req.Email, "role": string(role)})
	s.publish(ctx, authCtx, "user.invited", map[string]any{"email": req.Email, "invite_id": invite.ID})

	writeJSON(w, http.StatusCreated, inviteResponse{
		InviteID:  invite.ID,
		Email:     invite.Email,
		Role:      string(invite.Role),
		ExpiresAt: invite.ExpiresAt,
	})
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Role        *string `json:"role,omitempty"`
}

// lastOwner reports whether the user is the only owner of the org.
func (s *Server) lastOwner(r *http.Request, user *store.User) (bool, error) {
	if user.Role != store.RoleOwner {
		return false, nil
	}
	count, err := s.store.CountUsersByRole(r.Context(), user.OrgID, store.RoleOwner)
	if err != nil {
		return false, err
	}
	return count <= 1, nil
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user := s.getOrgUser(w, r)
	if user == nil {
		return
	}
	ctx := r.Context()

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Role != nil && store.UserRole(*req.Role) != user.Role {
		newRole := store.UserRole(*req.Role)
		switch newRole {
		case store.RoleOwner, store.RoleAdmin, store.RoleMember:
		default:
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}

		last, err := s.lastOwner(r, user)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if last {
			writeError(w, http.StatusConflict, "cannot demote the last owner")
			return
		}
		user.Role = newRole
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateUser, "user", user.ID, nil)
	writeJSON(w, http.StatusOK, toAPIUser(user))
}

func (s *Server) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	user := s.getOrgUser(w, r)
	if user == nil {
		return
	}
	ctx := r.Context()

	last, err := s.lastOwner(r, user)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if last {
		writeError(w, http.StatusConflict, "cannot disable the last owner")
		return
	}

	user.Status = store.UserStatusDisabled
	if err := s.store.UpdateUser(ctx, user); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditDisableUser, "user", user.ID, nil)
	s.logger.Info("user disabled", "user_id", user.ID, "by", actor(authCtx))
	writeJSON(w, http.StatusOK, toAPIUser(user))
}

func (s *Server) handleEnableUser(w http.ResponseWriter, r *http.Request) {
	user := s.getOrgUser(w, r)
	if user == nil {
		return
	}
	ctx := r.Context()

	user.Status = store.UserStatusActive
	if err := s.store.UpdateUser(ctx, user); err != nil {
		writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(ctx)
	s.audit(ctx, authCtx, store.AuditUpdateUser, "user", user.ID, map[string]any{"status": "active"})
	writeJSON(w, http.StatusOK, toAPIUser(user))
}
