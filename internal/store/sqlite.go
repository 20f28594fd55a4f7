// ABOUTME: SQLite implementation of the console store using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema, and applies migrations

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("already exists")

// SQLiteStore implements the console store interfaces using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS organizations (
			id         TEXT PRIMARY KEY,
			slug       TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			plan       TEXT NOT NULL DEFAULT 'free',
			status     TEXT NOT NULL DEFAULT 'active',
			settings_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (plan IN ('free', 'pro', 'enterprise')),
			CHECK (status IN ('active', 'suspended'))
		);

		CREATE INDEX IF NOT EXISTS idx_orgs_status ON organizations(status);

		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			org_id        TEXT NOT NULL,
			email         TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			display_name  TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'member',
			status        TEXT NOT NULL DEFAULT 'invited',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id),
			CHECK (role IN ('owner', 'admin', 'member')),
			CHECK (status IN ('invited', 'active', 'disabled'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_org_email ON users(org_id, email);
		CREATE INDEX IF NOT EXISTS idx_users_org ON users(org_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,

			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS invites (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			email      TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'member',
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			used_at    TEXT,
			used_by    TEXT,

			FOREIGN KEY (org_id) REFERENCES organizations(id),
			CHECK (role IN ('owner', 'admin', 'member'))
		);

		CREATE TABLE IF NOT EXISTS webauthn_credentials (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			credential_id    BLOB NOT NULL UNIQUE,
			public_key       BLOB NOT NULL,
			attestation_type TEXT NOT NULL DEFAULT '',
			transports       TEXT NOT NULL DEFAULT '',
			sign_count       INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,

			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_webauthn_user ON webauthn_credentials(user_id);

		CREATE TABLE IF NOT EXISTS content_pages (
			id            TEXT PRIMARY KEY,
			org_id        TEXT NOT NULL,
			slug          TEXT NOT NULL,
			title         TEXT NOT NULL,
			body_markdown TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'draft',
			author_id     TEXT NOT NULL,
			published_at  TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id),
			CHECK (status IN ('draft', 'published', 'archived'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_org_slug ON content_pages(org_id, slug);
		CREATE INDEX IF NOT EXISTS idx_pages_org_status ON content_pages(org_id, status);

		CREATE TABLE IF NOT EXISTS oauth_apps (
			id                 TEXT PRIMARY KEY,
			org_id             TEXT NOT NULL,
			name               TEXT NOT NULL,
			client_id          TEXT NOT NULL UNIQUE,
			client_secret_hash TEXT NOT NULL,
			redirect_uris_json TEXT NOT NULL DEFAULT '[]',
			scopes_json        TEXT NOT NULL DEFAULT '[]',
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_oauth_apps_org ON oauth_apps(org_id);

		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL,
			name         TEXT NOT NULL,
			key_hash     TEXT NOT NULL UNIQUE,
			prefix       TEXT NOT NULL,
			created_by   TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at   TEXT,

			FOREIGN KEY (org_id) REFERENCES organizations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_org ON api_keys(org_id);

		CREATE TABLE IF NOT EXISTS webhooks (
			id          TEXT PRIMARY KEY,
			org_id      TEXT NOT NULL,
			url         TEXT NOT NULL,
			secret      TEXT NOT NULL,
			events_json TEXT NOT NULL DEFAULT '[]',
			status      TEXT NOT NULL DEFAULT 'enabled',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id),
			CHECK (status IN ('enabled', 'disabled'))
		);

		CREATE INDEX IF NOT EXISTS idx_webhooks_org ON webhooks(org_id);

		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id              TEXT PRIMARY KEY,
			webhook_id      TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			payload_json    TEXT NOT NULL,
			attempt         INTEGER NOT NULL DEFAULT 1,
			status          TEXT NOT NULL DEFAULT 'pending',
			response_status INTEGER,
			error           TEXT,
			delivered_at    TEXT,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (webhook_id) REFERENCES webhooks(id),
			CHECK (status IN ('pending', 'delivered', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, created_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id      TEXT PRIMARY KEY,
			org_id        TEXT NOT NULL,
			actor_user_id TEXT NOT NULL,
			action        TEXT NOT NULL,
			target_type   TEXT NOT NULL,
			target_id     TEXT NOT NULL,
			ts            TEXT NOT NULL,
			detail_json   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_org_ts ON audit_log(org_id, ts);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_user_id);

		CREATE TABLE IF NOT EXISTS workflows (
			id            TEXT PRIMARY KEY,
			org_id        TEXT NOT NULL,
			name          TEXT NOT NULL,
			trigger_event TEXT NOT NULL,
			steps_json    TEXT NOT NULL DEFAULT '[]',
			enabled       INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_workflows_org ON workflows(org_id);
		CREATE INDEX IF NOT EXISTS idx_workflows_trigger ON workflows(trigger_event);

		CREATE TABLE IF NOT EXISTS workflow_runs (
			id           TEXT PRIMARY KEY,
			workflow_id  TEXT NOT NULL,
			trigger_json TEXT NOT NULL DEFAULT '{}',
			status       TEXT NOT NULL DEFAULT 'running',
			results_json TEXT NOT NULL DEFAULT '[]',
			started_at   TEXT NOT NULL,
			finished_at  TEXT,

			FOREIGN KEY (workflow_id) REFERENCES workflows(id),
			CHECK (status IN ('running', 'succeeded', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_runs_workflow ON workflow_runs(workflow_id, started_at);

		CREATE TABLE IF NOT EXISTS facets (
			id               TEXT PRIMARY KEY,
			org_id           TEXT NOT NULL,
			name             TEXT NOT NULL,
			contract_address TEXT NOT NULL,
			functions_json   TEXT NOT NULL DEFAULT '[]',
			selectors_json   TEXT NOT NULL DEFAULT '[]',
			version          INTEGER NOT NULL DEFAULT 1,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_facets_org_name ON facets(org_id, name);

		CREATE TABLE IF NOT EXISTS facet_installations (
			id              TEXT PRIMARY KEY,
			org_id          TEXT NOT NULL,
			diamond_address TEXT NOT NULL,
			facet_id        TEXT NOT NULL,
			action          TEXT NOT NULL,
			selectors_json  TEXT NOT NULL DEFAULT '[]',
			calldata        TEXT NOT NULL DEFAULT '',
			tx_hash         TEXT,
			status          TEXT NOT NULL DEFAULT 'pending',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			FOREIGN KEY (org_id) REFERENCES organizations(id),
			FOREIGN KEY (facet_id) REFERENCES facets(id),
			CHECK (action IN ('add', 'replace', 'remove')),
			CHECK (status IN ('pending', 'submitted', 'confirmed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_installs_diamond ON facet_installations(org_id, diamond_address);

		CREATE TABLE IF NOT EXISTS chain_usage (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			method     TEXT NOT NULL,
			success    INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chain_usage_org ON chain_usage(org_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "facet_installations",
			column: "calldata",
			apply:  `ALTER TABLE facet_installations ADD COLUMN calldata TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "chain_usage",
			column: "latency_ms",
			apply:  `ALTER TABLE chain_usage ADD COLUMN latency_ms INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to nil for nullable columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime converts a nil or zero time to nil, otherwise RFC3339 text.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses an RFC3339 timestamp column.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}

// parseNullTime parses an optional RFC3339 timestamp column.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// fmtTime formats a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
