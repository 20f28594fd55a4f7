// ABOUTME: Diamond facet registry and installation record persistence
// ABOUTME: Installations track cut actions against diamonds per organization

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CutAction is a diamond cut action.
type CutAction string

const (
	CutAdd     CutAction = "add"
	CutReplace CutAction = "replace"
	CutRemove  CutAction = "remove"
)

// InstallStatus represents the lifecycle of a facet installation.
type InstallStatus string

const (
	InstallPending   InstallStatus = "pending"
	InstallSubmitted InstallStatus = "submitted"
	InstallConfirmed InstallStatus = "confirmed"
	InstallFailed    InstallStatus = "failed"
)

// Facet is a registered facet contract with its function surface.
type Facet struct {
	ID              string
	OrgID           string
	Name            string
	ContractAddress string
	Functions       []string // canonical function signatures
	Selectors       []string // derived 4-byte selectors, hex with 0x prefix
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FacetInstallation records one cut action applied to a diamond.
type FacetInstallation struct {
	ID             string
	OrgID          string
	DiamondAddress string
	FacetID        string
	Action         CutAction
	Selectors      []string
	Calldata       string // encoded diamondCut calldata, hex with 0x prefix
	TxHash         string
	Status         InstallStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FacetStore defines methods for facet registry persistence.
type FacetStore interface {
	CreateFacet(ctx context.Context, facet *Facet) error
	GetFacet(ctx context.Context, id string) (*Facet, error)
	UpdateFacet(ctx context.Context, facet *Facet) error
	ListFacets(ctx context.Context, orgID string) ([]*Facet, error)
	DeleteFacet(ctx context.Context, id string) error

	RecordInstallation(ctx context.Context, install *FacetInstallation) error
	UpdateInstallationStatus(ctx context.Context, id string, status InstallStatus, txHash string) error
	ListInstallations(ctx context.Context, orgID, diamondAddress string) ([]*FacetInstallation, error)
}

var _ FacetStore = (*SQLiteStore)(nil)

// CreateFacet registers a new facet.
// Returns ErrDuplicate if the name is taken within the org.
func (s *SQLiteStore) CreateFacet(ctx context.Context, facet *Facet) error {
	if facet.ID == "" {
		facet.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if facet.CreatedAt.IsZero() {
		facet.CreatedAt = now
	}
	if facet.UpdatedAt.IsZero() {
		facet.UpdatedAt = now
	}
	if facet.Version == 0 {
		facet.Version = 1
	}

	functions, err := marshalStrings(facet.Functions)
	if err != nil {
		return err
	}
	selectors, err := marshalStrings(facet.Selectors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO facets (id, org_id, name, contract_address, functions_json, selectors_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		facet.ID,
		facet.OrgID,
		facet.Name,
		facet.ContractAddress,
		functions,
		selectors,
		facet.Version,
		fmtTime(facet.CreatedAt),
		fmtTime(facet.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting facet: %w", err)
	}

	s.logger.Debug("created facet", "id", facet.ID, "org_id", facet.OrgID, "name", facet.Name)
	return nil
}

const facetColumns = `id, org_id, name, contract_address, functions_json, selectors_json, version, created_at, updated_at`

// GetFacet retrieves a facet by ID.
func (s *SQLiteStore) GetFacet(ctx context.Context, id string) (*Facet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+facetColumns+` FROM facets WHERE id = ?`, id)
	return scanFacet(row)
}

// UpdateFacet updates a facet's surface and bumps its version.
func (s *SQLiteStore) UpdateFacet(ctx context.Context, facet *Facet) error {
	facet.UpdatedAt = time.Now().UTC()
	facet.Version++

	functions, err := marshalStrings(facet.Functions)
	if err != nil {
		return err
	}
	selectors, err := marshalStrings(facet.Selectors)
	if err != nil {
		return err
	}

	query := `
		UPDATE facets
		SET name = ?, contract_address = ?, functions_json = ?, selectors_json = ?, version = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		facet.Name,
		facet.ContractAddress,
		functions,
		selectors,
		facet.Version,
		fmtTime(facet.UpdatedAt),
		facet.ID,
	)
	if err != nil {
		return fmt.Errorf("updating facet: %w", err)
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

// ListFacets returns all facets in an organization.
func (s *SQLiteStore) ListFacets(ctx context.Context, orgID string) ([]*Facet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+facetColumns+` FROM facets WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying facets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var facets []*Facet
	for rows.Next() {
		facet, err := scanFacet(rows)
		if err != nil {
			return nil, err
		}
		facets = append(facets, facet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facets: %w", err)
	}
	return facets, nil
}

// DeleteFacet removes a facet from the registry.
// Installations referencing it are kept for history.
func (s *SQLiteStore) DeleteFacet(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM facets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting facet: %w", err)
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

// scanFacet scans a row into a Facet.
func scanFacet(scanner interface{ Scan(dest ...any) error }) (*Facet, error) {
	var facet Facet
	var functionsJSON, selectorsJSON, createdStr, updatedStr string

	err := scanner.Scan(
		&facet.ID,
		&facet.OrgID,
		&facet.Name,
		&facet.ContractAddress,
		&functionsJSON,
		&selectorsJSON,
		&facet.Version,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning facet: %w", err)
	}

	if err := json.Unmarshal([]byte(functionsJSON), &facet.Functions); err != nil {
		return nil, fmt.Errorf("unmarshaling functions: %w", err)
	}
	if err := json.Unmarshal([]byte(selectorsJSON), &facet.Selectors); err != nil {
		return nil, fmt.Errorf("unmarshaling selectors: %w", err)
	}

	if facet.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if facet.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &facet, nil
}

// RecordInstallation stores a new facet installation in pending state.
func (s *SQLiteStore) RecordInstallation(ctx context.Context, install *FacetInstallation) error {
	if install.ID == "" {
		install.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if install.CreatedAt.IsZero() {
		install.CreatedAt = now
	}
	if install.UpdatedAt.IsZero() {
		install.UpdatedAt = now
	}
	if install.Status == "" {
		install.Status = InstallPending
	}

	selectors, err := marshalStrings(install.Selectors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO facet_installations (id, org_id, diamond_address, facet_id, action, selectors_json, calldata, tx_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		install.ID,
		install.OrgID,
		install.DiamondAddress,
		install.FacetID,
		install.Action,
		selectors,
		install.Calldata,
		nullString(install.TxHash),
		install.Status,
		fmtTime(install.CreatedAt),
		fmtTime(install.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting installation: %w", err)
	}

	s.logger.Debug("recorded installation",
		"id", install.ID,
		"diamond", install.DiamondAddress,
		"facet_id", install.FacetID,
		"action", install.Action,
	)
	return nil
}

// UpdateInstallationStatus moves an installation through its lifecycle.
// An empty txHash leaves the stored hash unchanged.
func (s *SQLiteStore) UpdateInstallationStatus(ctx context.Context, id string, status InstallStatus, txHash string) error {
	query := `
		UPDATE facet_installations
		SET status = ?, tx_hash = COALESCE(?, tx_hash), updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, nullString(txHash), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating installation status: %w", err)
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

// ListInstallations returns installations for a diamond, oldest first.
// Oldest-first ordering lets callers replay cut history to compute current state.
func (s *SQLiteStore) ListInstallations(ctx context.Context, orgID, diamondAddress string) ([]*FacetInstallation, error) {
	query := `
		SELECT id, org_id, diamond_address, facet_id, action, selectors_json, calldata, tx_hash, status, created_at, updated_at
		FROM facet_installations
		WHERE org_id = ? AND diamond_address = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, diamondAddress)
	if err != nil {
		return nil, fmt.Errorf("querying installations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var installs []*FacetInstallation
	for rows.Next() {
		var ins FacetInstallation
		var selectorsJSON, actionStr, statusStr, createdStr, updatedStr string
		var txHash sql.NullString

		err := rows.Scan(
			&ins.ID,
			&ins.OrgID,
			&ins.DiamondAddress,
			&ins.FacetID,
			&actionStr,
			&selectorsJSON,
			&ins.Calldata,
			&txHash,
			&statusStr,
			&createdStr,
			&updatedStr,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning installation: %w", err)
		}

		ins.Action = CutAction(actionStr)
		ins.Status = InstallStatus(statusStr)
		if txHash.Valid {
			ins.TxHash = txHash.String
		}
		if err := json.Unmarshal([]byte(selectorsJSON), &ins.Selectors); err != nil {
			return nil, fmt.Errorf("unmarshaling selectors: %w", err)
		}
		if ins.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, err
		}
		if ins.UpdatedAt, err = parseTime(updatedStr); err != nil {
			return nil, err
		}
		installs = append(installs, &ins)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating installations: %w", err)
	}
	return installs, nil
}
