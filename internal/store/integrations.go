// ABOUTME: OAuth app and API key entities and store methods
// ABOUTME: Secrets are stored hashed; plaintext is surfaced once at creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OAuthApp represents registered OAuth client credentials for an organization.
// The client secret is stored as a SHA-256 hex hash; the plaintext is only
// available at creation and rotation time.
type OAuthApp struct {
	ID               string
	OrgID            string
	Name             string
	ClientID         string
	ClientSecretHash string
	RedirectURIs     []string
	Scopes           []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// APIKey represents a server-to-server API key for an organization.
// Only the SHA-256 hash of the key is stored. Prefix holds the first
// characters of the plaintext for display purposes.
type APIKey struct {
	ID         string
	OrgID      string
	Name       string
	KeyHash    string
	Prefix     string
	CreatedBy  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// IntegrationStore defines methods for OAuth app and API key persistence.
type IntegrationStore interface {
	CreateOAuthApp(ctx context.Context, app *OAuthApp) error
	GetOAuthApp(ctx context.Context, id string) (*OAuthApp, error)
	GetOAuthAppByClientID(ctx context.Context, clientID string) (*OAuthApp, error)
	UpdateOAuthApp(ctx context.Context, app *OAuthApp) error
	ListOAuthApps(ctx context.Context, orgID string) ([]*OAuthApp, error)
	DeleteOAuthApp(ctx context.Context, id string) error

	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, orgID string) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string) error
}

var _ IntegrationStore = (*SQLiteStore)(nil)

// CreateOAuthApp creates a new OAuth app.
// Returns ErrDuplicate if the client_id is already registered.
func (s *SQLiteStore) CreateOAuthApp(ctx context.Context, app *OAuthApp) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}

	redirects, err := marshalStrings(app.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := marshalStrings(app.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO oauth_apps (id, org_id, name, client_id, client_secret_hash, redirect_uris_json, scopes_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		app.ID,
		app.OrgID,
		app.Name,
		app.ClientID,
		app.ClientSecretHash,
		redirects,
		scopes,
		fmtTime(app.CreatedAt),
		fmtTime(app.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting oauth app: %w", err)
	}

	s.logger.Debug("created oauth app", "id", app.ID, "org_id", app.OrgID, "client_id", app.ClientID)
	return nil
}

const oauthAppColumns = `id, org_id, name, client_id, client_secret_hash, redirect_uris_json, scopes_json, created_at, updated_at`

// GetOAuthApp retrieves an OAuth app by ID.
func (s *SQLiteStore) GetOAuthApp(ctx context.Context, id string) (*OAuthApp, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+oauthAppColumns+` FROM oauth_apps WHERE id = ?`, id)
	return scanOAuthApp(row)
}

// GetOAuthAppByClientID retrieves an OAuth app by its client_id.
func (s *SQLiteStore) GetOAuthAppByClientID(ctx context.Context, clientID string) (*OAuthApp, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+oauthAppColumns+` FROM oauth_apps WHERE client_id = ?`, clientID)
	return scanOAuthApp(row)
}

// UpdateOAuthApp updates name, redirect URIs, scopes, and secret hash.
func (s *SQLiteStore) UpdateOAuthApp(ctx context.Context, app *OAuthApp) error {
	app.UpdatedAt = time.Now().UTC()

	redirects, err := marshalStrings(app.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := marshalStrings(app.Scopes)
	if err != nil {
		return err
	}

	query := `
		UPDATE oauth_apps
		SET name = ?, client_secret_hash = ?, redirect_uris_json = ?, scopes_json = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		app.Name,
		app.ClientSecretHash,
		redirects,
		scopes,
		fmtTime(app.UpdatedAt),
		app.ID,
	)
	if err != nil {
		return fmt.Errorf("updating oauth app: %w", err)
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

// ListOAuthApps returns all OAuth apps in an organization, newest first.
func (s *SQLiteStore) ListOAuthApps(ctx context.Context, orgID string) ([]*OAuthApp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+oauthAppColumns+` FROM oauth_apps WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying oauth apps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var apps []*OAuthApp
	for rows.Next() {
		app, err := scanOAuthApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating oauth apps: %w", err)
	}
	return apps, nil
}

// DeleteOAuthApp removes an OAuth app.
func (s *SQLiteStore) DeleteOAuthApp(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_apps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting oauth app: %w", err)
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

// scanOAuthApp scans a row into an OAuthApp.
func scanOAuthApp(scanner interface{ Scan(dest ...any) error }) (*OAuthApp, error) {
	var app OAuthApp
	var redirectsJSON, scopesJSON, createdStr, updatedStr string

	err := scanner.Scan(
		&app.ID,
		&app.OrgID,
		&app.Name,
		&app.ClientID,
		&app.ClientSecretHash,
		&redirectsJSON,
		&scopesJSON,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning oauth app: %w", err)
	}

	if err := json.Unmarshal([]byte(redirectsJSON), &app.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshaling redirect uris: %w", err)
	}
	if err := json.Unmarshal([]byte(scopesJSON), &app.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}

	if app.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if app.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &app, nil
}

// CreateAPIKey stores a new API key record.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO api_keys (id, org_id, name, key_hash, prefix, created_by, created_at, last_used_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.OrgID,
		key.Name,
		key.KeyHash,
		key.Prefix,
		key.CreatedBy,
		fmtTime(key.CreatedAt),
		nullTime(key.LastUsedAt),
		nullTime(key.RevokedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "id", key.ID, "org_id", key.OrgID, "prefix", key.Prefix)
	return nil
}

const apiKeyColumns = `id, org_id, name, key_hash, prefix, created_by, created_at, last_used_at, revoked_at`

// GetAPIKey retrieves an API key record by ID.
func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanAPIKey(row)
}

// GetAPIKeyByHash retrieves an API key record by the hash of its plaintext.
func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash)
	return scanAPIKey(row)
}

// ListAPIKeys returns all API keys in an organization, newest first.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, orgID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key as revoked. Revoking twice is a no-op.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Either missing or already revoked; distinguish for the caller
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchAPIKey updates the last-used timestamp of a key.
func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// scanAPIKey scans a row into an APIKey.
func scanAPIKey(scanner interface{ Scan(dest ...any) error }) (*APIKey, error) {
	var key APIKey
	var createdStr string
	var lastUsed, revoked sql.NullString

	err := scanner.Scan(
		&key.ID,
		&key.OrgID,
		&key.Name,
		&key.KeyHash,
		&key.Prefix,
		&key.CreatedBy,
		&createdStr,
		&lastUsed,
		&revoked,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	if key.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if key.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, err
	}
	if key.RevokedAt, err = parseNullTime(revoked); err != nil {
		return nil, err
	}
	return &key, nil
}

// marshalStrings serializes a string slice, nil slices become "[]".
func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}
