// ABOUTME: Console user, session, invite, and passkey credential persistence
// ABOUTME: Supports password and WebAuthn login for the admin console

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInviteUsed is returned when trying to use an already-used invite.
var ErrInviteUsed = errors.New("invite already used")

// ErrInviteExpired is returned when an invite has expired.
var ErrInviteExpired = errors.New("invite expired")

// UserRole is the role a user holds within their organization.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
)

// UserStatus represents the lifecycle state of a console user.
type UserStatus string

const (
	UserStatusInvited  UserStatus = "invited"
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User represents a console user belonging to one organization.
type User struct {
	ID           string
	OrgID        string
	Email        string
	PasswordHash string // bcrypt hash, empty if passkey-only
	DisplayName  string
	Role         UserRole
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session represents an authenticated console session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Invite represents a single-use signup invitation.
type Invite struct {
	ID        string
	OrgID     string
	Email     string
	Role      UserRole
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	UsedBy    string
}

// WebAuthnCredential represents a passkey credential for a user.
type WebAuthnCredential struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string // JSON array
	SignCount       uint32
	CreatedAt       time.Time
}

// UserStore defines methods for user, session, and invite persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, orgID, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context, orgID string) ([]*User, error)
	CountUsersByRole(ctx context.Context, orgID string, role UserRole) (int, error)

	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error

	CreateInvite(ctx context.Context, invite *Invite) error
	GetInvite(ctx context.Context, id string) (*Invite, error)
	UseInvite(ctx context.Context, inviteID, userID string) error

	CreateWebAuthnCredential(ctx context.Context, cred *WebAuthnCredential) error
	GetWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error)
	GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (*WebAuthnCredential, error)
	UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error
	DeleteWebAuthnCredential(ctx context.Context, id string) error
}

var _ UserStore = (*SQLiteStore)(nil)

// CreateUser creates a new console user.
// Returns ErrDuplicate if the email is already taken within the org.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	if user.Role == "" {
		user.Role = RoleMember
	}
	if user.Status == "" {
		user.Status = UserStatusInvited
	}

	query := `
		INSERT INTO users (id, org_id, email, password_hash, display_name, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.OrgID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Role,
		user.Status,
		fmtTime(user.CreatedAt),
		fmtTime(user.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "org_id", user.OrgID, "email", user.Email)
	return nil
}

const userColumns = `id, org_id, email, password_hash, display_name, role, status, created_at, updated_at`

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email within an organization.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, orgID, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE org_id = ? AND email = ?`, orgID, email)
	return scanUser(row)
}

// UpdateUser updates mutable user fields (password hash, display name, role, status).
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET password_hash = ?, display_name = ?, role = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		user.PasswordHash,
		user.DisplayName,
		user.Role,
		user.Status,
		fmtTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users in an organization, oldest first.
func (s *SQLiteStore) ListUsers(ctx context.Context, orgID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE org_id = ? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// CountUsersByRole counts non-disabled users holding a role within an org.
// Used to prevent demoting or disabling the last owner.
func (s *SQLiteStore) CountUsersByRole(ctx context.Context, orgID string, role UserRole) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE org_id = ? AND role = ? AND status != 'disabled'`,
		orgID, role,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// scanUser scans a row into a User.
func scanUser(scanner interface{ Scan(dest ...any) error }) (*User, error) {
	var user User
	var roleStr, statusStr, createdStr, updatedStr string

	err := scanner.Scan(
		&user.ID,
		&user.OrgID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&roleStr,
		&statusStr,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.Role = UserRole(roleStr)
	user.Status = UserStatus(statusStr)

	if user.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateSession creates a new console session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		fmtTime(session.CreatedAt),
		fmtTime(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Expired sessions are treated as not found.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`

	var session Session
	var createdStr, expiresStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&createdStr,
		&expiresStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if session.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseTime(expiresStr); err != nil {
		return nil, err
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &session, nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all sessions past their expiry.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}
	return nil
}

// CreateInvite creates a new signup invite.
func (s *SQLiteStore) CreateInvite(ctx context.Context, invite *Invite) error {
	if invite.ID == "" {
		invite.ID = uuid.New().String()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	if invite.Role == "" {
		invite.Role = RoleMember
	}

	query := `
		INSERT INTO invites (id, org_id, email, role, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		invite.ID,
		invite.OrgID,
		invite.Email,
		invite.Role,
		invite.CreatedBy,
		fmtTime(invite.CreatedAt),
		fmtTime(invite.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by ID.
func (s *SQLiteStore) GetInvite(ctx context.Context, id string) (*Invite, error) {
	query := `
		SELECT id, org_id, email, role, created_by, created_at, expires_at, used_at, used_by
		FROM invites WHERE id = ?
	`

	var invite Invite
	var roleStr, createdStr, expiresStr string
	var usedAt, usedBy sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&invite.ID,
		&invite.OrgID,
		&invite.Email,
		&roleStr,
		&invite.CreatedBy,
		&createdStr,
		&expiresStr,
		&usedAt,
		&usedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}

	invite.Role = UserRole(roleStr)
	if invite.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if invite.ExpiresAt, err = parseTime(expiresStr); err != nil {
		return nil, err
	}
	if invite.UsedAt, err = parseNullTime(usedAt); err != nil {
		return nil, err
	}
	if usedBy.Valid {
		invite.UsedBy = usedBy.String
	}
	return &invite, nil
}

// UseInvite marks an invite as used by the given user.
// Returns ErrInviteUsed if already used, ErrInviteExpired if past expiry.
func (s *SQLiteStore) UseInvite(ctx context.Context, inviteID, userID string) error {
	invite, err := s.GetInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	if invite.UsedAt != nil {
		return ErrInviteUsed
	}
	if time.Now().After(invite.ExpiresAt) {
		return ErrInviteExpired
	}

	query := `UPDATE invites SET used_at = ?, used_by = ? WHERE id = ? AND used_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, fmtTime(time.Now()), userID, inviteID)
	if err != nil {
		return fmt.Errorf("using invite: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInviteUsed
	}
	return nil
}

// CreateWebAuthnCredential stores a new passkey credential.
func (s *SQLiteStore) CreateWebAuthnCredential(ctx context.Context, cred *WebAuthnCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO webauthn_credentials (id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.CredentialID,
		cred.PublicKey,
		cred.AttestationType,
		cred.Transports,
		cred.SignCount,
		fmtTime(cred.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting webauthn credential: %w", err)
	}
	return nil
}

const webauthnColumns = `id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at`

// GetWebAuthnCredentialsByUser returns all passkeys registered by a user.
func (s *SQLiteStore) GetWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webauthnColumns+` FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying webauthn credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*WebAuthnCredential
	for rows.Next() {
		cred, err := scanWebAuthnCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webauthn credentials: %w", err)
	}
	return creds, nil
}

// GetWebAuthnCredentialByCredentialID looks up a passkey by its raw credential ID.
func (s *SQLiteStore) GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (*WebAuthnCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webauthnColumns+` FROM webauthn_credentials WHERE credential_id = ?`, credentialID)
	return scanWebAuthnCredential(row)
}

// UpdateWebAuthnCredentialSignCount records the authenticator's sign counter after login.
func (s *SQLiteStore) UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webauthn_credentials SET sign_count = ? WHERE id = ?`, signCount, id)
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
	}
	return nil
}

// DeleteWebAuthnCredential removes a passkey.
func (s *SQLiteStore) DeleteWebAuthnCredential(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webauthn_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting webauthn credential: %w", err)
	}
	return nil
}

// scanWebAuthnCredential scans a row into a WebAuthnCredential.
func scanWebAuthnCredential(scanner interface{ Scan(dest ...any) error }) (*WebAuthnCredential, error) {
	var cred WebAuthnCredential
	var createdStr string

	err := scanner.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.CredentialID,
		&cred.PublicKey,
		&cred.AttestationType,
		&cred.Transports,
		&cred.SignCount,
		&createdStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webauthn credential: %w", err)
	}

	if cred.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &cred, nil
}
