// ABOUTME: Password login, logout, invite acceptance, and JWT minting handlers
// ABOUTME: Browser sessions are cookie-backed; API access mints bearer JWTs

package console

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/config"
	"github.com/hexlayer/console/internal/store"
)

type loginRequest struct {
	OrgSlug  string `json:"org_slug"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User  *apiUser `json:"user"`
	Token string   `json:"token"`
}

// handleLogin authenticates email/password within an org and starts a
// browser session. A JWT is returned as well for API clients.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrgSlug == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "org_slug, email, and password are required")
		return
	}

	ctx := r.Context()
	org, err := s.store.GetOrganizationBySlug(ctx, req.OrgSlug)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if org.Status == store.OrgStatusSuspended {
		writeError(w, http.StatusForbidden, "organization is suspended")
		return
	}

	user, err := s.store.GetUserByEmail(ctx, org.ID, req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.Status != store.UserStatusActive {
		writeError(w, http.StatusForbidden, "user is not active")
		return
	}
	if user.PasswordHash == "" {
		// Passkey-only account
		writeError(w, http.StatusUnauthorized, "password login not available for this user")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.startSession(w, r, user)
	if err != nil {
		s.logger.Error("starting session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("login", "user_id", user.ID, "org_id", org.ID)
	writeJSON(w, http.StatusOK, loginResponse{User: toAPIUser(user), Token: token})
}

// startSession creates a session row, sets the cookie, and mints a JWT.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *store.User) (string, error) {
	ttl := s.config.Auth.SessionTTL
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}

	session := &store.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	return s.verifier.Generate(user.ID, user.OrgID, s.config.Auth.TokenTTL)
}

// handleLogout deletes the session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil && cookie.Value != "" {
		if err := s.store.DeleteSession(r.Context(), cookie.Value); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("deleting session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintTokenRequest struct {
	TTL string `json:"ttl,omitempty"`
}

type mintTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleMintToken mints a fresh JWT for the authenticated user.
func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	if authCtx.UserID == "" {
		writeError(w, http.StatusForbidden, "api keys cannot mint tokens")
		return
	}

	var req mintTokenRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	ttl := s.config.Auth.TokenTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}
	if ttl > config.MaxTokenTTL {
		writeError(w, http.StatusBadRequest, "ttl exceeds maximum")
		return
	}

	token, err := s.verifier.Generate(authCtx.UserID, authCtx.OrgID, ttl)
	if err != nil {
		s.logger.Error("minting token", "user_id", authCtx.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.audit(r.Context(), authCtx, store.AuditCreateToken, "token", "", map[string]any{"ttl": ttl.String()})
	writeJSON(w, http.StatusOK, mintTokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}

type acceptInviteRequest struct {
	InviteID    string `json:"invite_id"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// handleAcceptInvite turns a pending invite into an active user. Password is
// optional: without one the account is passkey-only, and the session started
// here is the window to register one.
func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.InviteID == "" {
		writeError(w, http.StatusBadRequest, "invite_id is required")
		return
	}

	ctx := r.Context()
	invite, err := s.store.GetInvite(ctx, req.InviteID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if invite.UsedAt != nil {
		writeError(w, http.StatusConflict, "invite already used")
		return
	}
	if time.Now().After(invite.ExpiresAt) {
		writeError(w, http.StatusGone, "invite expired")
		return
	}

	var passwordHash string
	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		passwordHash = string(hashed)
	}

	user := &store.User{
		OrgID:        invite.OrgID,
		Email:        invite.Email,
		PasswordHash: passwordHash,
		DisplayName:  req.DisplayName,
		Role:         invite.Role,
		Status:       store.UserStatusActive,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.UseInvite(ctx, invite.ID, user.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	token, err := s.startSession(w, r, user)
	if err != nil {
		s.logger.Error("starting session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	authCtx := &auth.AuthContext{UserID: user.ID, OrgID: user.OrgID, Role: string(user.Role)}
	s.audit(ctx, authCtx, store.AuditCreateUser, "user", user.ID, map[string]any{"email": user.Email, "invite_id": invite.ID})
	s.publish(ctx, authCtx, "user.created", map[string]any{"user_id": user.ID, "email": user.Email})

	writeJSON(w, http.StatusCreated, loginResponse{User: toAPIUser(user), Token: token})
}

// bcryptCost returns the configured password hashing cost.
func (s *Server) bcryptCost() int {
	if s.config.Auth.BcryptCost > 0 {
		return s.config.Auth.BcryptCost
	}
	return bcrypt.DefaultCost
}
