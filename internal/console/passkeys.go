// ABOUTME: WebAuthn passkey registration and login ceremonies
// ABOUTME: Challenge state lives in a short-lived in-memory session store

package console

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/store"
)

// waUser wraps a console user to satisfy the webauthn.User interface.
type waUser struct {
	user  *store.User
	creds []*store.WebAuthnCredential
}

func (u *waUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *waUser) WebAuthnName() string {
	return u.user.Email
}

func (u *waUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Email
}

func (u *waUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}

// waSession holds one in-progress ceremony.
type waSession struct {
	session   *webauthn.SessionData
	userID    string
	expiresAt time.Time
}

// waSessionStore keeps ceremony state between begin and finish calls.
type waSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*waSession
	cancel   context.CancelFunc
}

func newWASessionStore() *waSessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &waSessionStore{
		sessions: make(map[string]*waSession),
		cancel:   cancel,
	}
	go s.cleanupLoop(ctx)
	return s
}

func (s *waSessionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *waSessionStore) Set(token string, session *webauthn.SessionData, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = &waSession{
		session:   session,
		userID:    userID,
		expiresAt: time.Now().Add(5 * time.Minute),
	}
}

func (s *waSessionStore) Get(token string) (*webauthn.SessionData, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[token]
	if !ok || time.Now().After(data.expiresAt) {
		return nil, "", false
	}
	return data.session, data.userID, true
}

func (s *waSessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *waSessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.sessions {
				if now.After(v.expiresAt) {
					delete(s.sessions, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func secureToken(bytes int) (string, error) {
	raw := make([]byte, bytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// relyingParty resolves the WebAuthn RP identity: explicit config wins,
// otherwise it is derived from the console base URL.
func relyingParty(rpID string, rpOrigins []string, baseURL string) (string, []string) {
	if rpID != "" && len(rpOrigins) > 0 {
		return rpID, rpOrigins
	}

	id := "localhost"
	origins := []string{"http://localhost", "https://localhost"}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Hostname() == "" {
		return id, origins
	}

	id = parsed.Hostname()
	origins = []string{baseURL}
	if parsed.Scheme == "https" {
		origins = append(origins, "http://"+parsed.Host)
	} else {
		origins = append(origins, "https://"+parsed.Host)
	}
	return id, origins
}

func (s *Server) initWebAuthn() error {
	rpID, rpOrigins := relyingParty(s.config.WebAdmin.RPID, s.config.WebAdmin.RPOrigins, s.config.WebAdmin.BaseURL)

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "hexlayer console",
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return err
	}

	s.webauthn = w
	s.waSessions = newWASessionStore()
	return nil
}

type waBeginResponse struct {
	Options      any    `json:"options"`
	SessionToken string `json:"sessionToken"`
}

type waFinishRequest struct {
	SessionToken string          `json:"sessionToken"`
	Response     json.RawMessage `json:"response"`
}

// handlePasskeyRegisterBegin starts registration for the authenticated user.
func (s *Server) handlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if s.webauthn == nil {
		writeError(w, http.StatusServiceUnavailable, "passkeys not configured")
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	if authCtx.UserID == "" {
		writeError(w, http.StatusForbidden, "api keys cannot register passkeys")
		return
	}

	user, err := s.store.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	existing, err := s.store.GetWebAuthnCredentialsByUser(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("loading credentials", "user_id", user.ID, "error", err)
		existing = nil
	}

	options, session, err := s.webauthn.BeginRegistration(&waUser{user: user, creds: existing})
	if err != nil {
		s.logger.Error("beginning registration", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start registration")
		return
	}

	token, err := secureToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.waSessions.Set(token, session, user.ID)

	writeJSON(w, http.StatusOK, waBeginResponse{Options: options, SessionToken: token})
}

// handlePasskeyRegisterFinish verifies the attestation and stores the credential.
func (s *Server) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if s.webauthn == nil {
		writeError(w, http.StatusServiceUnavailable, "passkeys not configured")
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	if authCtx.UserID == "" {
		writeError(w, http.StatusForbidden, "api keys cannot register passkeys")
		return
	}

	var req waFinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, sessionUserID, ok := s.waSessions.Get(req.SessionToken)
	if !ok || sessionUserID != authCtx.UserID {
		writeError(w, http.StatusBadRequest, "invalid or expired session")
		return
	}
	s.waSessions.Delete(req.SessionToken)

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid response")
		return
	}

	user, err := s.store.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	existing, _ := s.store.GetWebAuthnCredentialsByUser(r.Context(), user.ID)

	credential, err := s.webauthn.CreateCredential(&waUser{user: user, creds: existing}, *session, parsed)
	if err != nil {
		s.logger.Error("verifying credential", "error", err)
		writeError(w, http.StatusBadRequest, "failed to verify credential")
		return
	}

	transports, err := json.Marshal(credential.Transport)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	cred := &store.WebAuthnCredential{
		UserID:          user.ID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		Transports:      string(transports),
		SignCount:       credential.Authenticator.SignCount,
	}
	if err := s.store.CreateWebAuthnCredential(r.Context(), cred); err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Info("passkey registered", "user_id", user.ID, "credential_id", cred.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePasskeyLoginBegin starts a discoverable-credential login; no
// username is needed, the credential identifies the user.
func (s *Server) handlePasskeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	if s.webauthn == nil {
		writeError(w, http.StatusServiceUnavailable, "passkeys not configured")
		return
	}

	options, session, err := s.webauthn.BeginDiscoverableLogin()
	if err != nil {
		s.logger.Error("beginning login", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	token, err := secureToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.waSessions.Set(token, session, "")

	writeJSON(w, http.StatusOK, waBeginResponse{Options: options, SessionToken: token})
}

// handlePasskeyLoginFinish validates the assertion and starts a session.
func (s *Server) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	if s.webauthn == nil {
		writeError(w, http.StatusServiceUnavailable, "passkeys not configured")
		return
	}

	var req waFinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, _, ok := s.waSessions.Get(req.SessionToken)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or expired session")
		return
	}
	s.waSessions.Delete(req.SessionToken)

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid response")
		return
	}

	ctx := r.Context()
	stored, err := s.store.GetWebAuthnCredentialByCredentialID(ctx, parsed.RawID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown credential")
		} else {
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	user, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown credential")
		return
	}
	if user.Status != store.UserStatusActive {
		writeError(w, http.StatusForbidden, "user is not active")
		return
	}
	if org, err := s.store.GetOrganization(ctx, user.OrgID); err != nil || org.Status == store.OrgStatusSuspended {
		writeError(w, http.StatusForbidden, "organization is suspended")
		return
	}

	allCreds, _ := s.store.GetWebAuthnCredentialsByUser(ctx, user.ID)
	wau := &waUser{user: user, creds: allCreds}

	finder := func(_, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != user.ID {
			return nil, errors.New("user handle mismatch")
		}
		return wau, nil
	}

	credential, err := s.webauthn.ValidateDiscoverableLogin(finder, *session, parsed)
	if err != nil {
		s.logger.Error("validating login", "error", err)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	if err := s.store.UpdateWebAuthnCredentialSignCount(ctx, stored.ID, credential.Authenticator.SignCount); err != nil {
		s.logger.Warn("updating sign count", "error", err)
	}

	token, err := s.startSession(w, r, user)
	if err != nil {
		s.logger.Error("starting session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("passkey login", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{User: toAPIUser(user), Token: token})
}
