// ABOUTME: Organization entity and store methods for multi-tenant scoping
// ABOUTME: Orgs are suspended rather than deleted to keep the audit trail coherent

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrgStatus represents the lifecycle state of an organization.
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// OrgPlan represents the billing plan of an organization.
type OrgPlan string

const (
	OrgPlanFree       OrgPlan = "free"
	OrgPlanPro        OrgPlan = "pro"
	OrgPlanEnterprise OrgPlan = "enterprise"
)

// Organization is a tenant. Every other entity is scoped to one.
type Organization struct {
	ID        string
	Slug      string
	Name      string
	Plan      OrgPlan
	Status    OrgStatus
	Settings  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrgFilter specifies filtering options for listing organizations.
type OrgFilter struct {
	Status *OrgStatus
	Limit  int
}

// OrganizationStore defines methods for organization persistence.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
	SetOrganizationStatus(ctx context.Context, id string, status OrgStatus) error
	ListOrganizations(ctx context.Context, filter OrgFilter) ([]*Organization, error)
}

var _ OrganizationStore = (*SQLiteStore)(nil)

// CreateOrganization creates a new organization.
// Generates ID and timestamps if not set. Returns ErrDuplicate if the slug is taken.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	if org.UpdatedAt.IsZero() {
		org.UpdatedAt = now
	}
	if org.Plan == "" {
		org.Plan = OrgPlanFree
	}
	if org.Status == "" {
		org.Status = OrgStatusActive
	}

	settingsJSON, err := marshalSettings(org.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO organizations (id, slug, name, plan, status, settings_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		org.ID,
		org.Slug,
		org.Name,
		org.Plan,
		org.Status,
		settingsJSON,
		fmtTime(org.CreatedAt),
		fmtTime(org.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting organization: %w", err)
	}

	s.logger.Debug("created organization", "id", org.ID, "slug", org.Slug)
	return nil
}

const orgColumns = `id, slug, name, plan, status, settings_json, created_at, updated_at`

// GetOrganization retrieves an organization by ID.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id)
	return scanOrganization(row)
}

// GetOrganizationBySlug retrieves an organization by its unique slug.
func (s *SQLiteStore) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE slug = ?`, slug)
	return scanOrganization(row)
}

// UpdateOrganization updates name, plan, and settings. Slug and status are immutable here;
// status changes go through SetOrganizationStatus.
func (s *SQLiteStore) UpdateOrganization(ctx context.Context, org *Organization) error {
	org.UpdatedAt = time.Now().UTC()

	settingsJSON, err := marshalSettings(org.Settings)
	if err != nil {
		return err
	}

	query := `
		UPDATE organizations
		SET name = ?, plan = ?, settings_json = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		org.Name,
		org.Plan,
		settingsJSON,
		fmtTime(org.UpdatedAt),
		org.ID,
	)
	if err != nil {
		return fmt.Errorf("updating organization: %w", err)
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

// SetOrganizationStatus suspends or reactivates an organization.
func (s *SQLiteStore) SetOrganizationStatus(ctx context.Context, id string, status OrgStatus) error {
	query := `UPDATE organizations SET status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating organization status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("set organization status", "id", id, "status", status)
	return nil
}

// ListOrganizations returns organizations matching the filter, newest first.
func (s *SQLiteStore) ListOrganizations(ctx context.Context, filter OrgFilter) ([]*Organization, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + orgColumns + ` FROM organizations WHERE 1=1`
	args := []any{}

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orgs []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating organizations: %w", err)
	}
	return orgs, nil
}

// marshalSettings serializes the settings map, nil maps become NULL.
func marshalSettings(settings map[string]any) (any, error) {
	if settings == nil {
		return nil, nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshaling settings: %w", err)
	}
	return string(data), nil
}

// scanOrganization scans a row into an Organization.
func scanOrganization(scanner interface{ Scan(dest ...any) error }) (*Organization, error) {
	var org Organization
	var planStr, statusStr, createdStr, updatedStr string
	var settingsJSON sql.NullString

	err := scanner.Scan(
		&org.ID,
		&org.Slug,
		&org.Name,
		&planStr,
		&statusStr,
		&settingsJSON,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning organization: %w", err)
	}

	org.Plan = OrgPlan(planStr)
	org.Status = OrgStatus(statusStr)

	if settingsJSON.Valid && settingsJSON.String != "" {
		if err := json.Unmarshal([]byte(settingsJSON.String), &org.Settings); err != nil {
			return nil, fmt.Errorf("unmarshaling settings: %w", err)
		}
	}

	if org.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if org.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &org, nil
}
