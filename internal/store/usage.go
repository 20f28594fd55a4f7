// ABOUTME: Chain proxy usage metering persistence
// ABOUTME: Stores per-request records and aggregates them for reports

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChainUsage is one metered chain proxy request.
type ChainUsage struct {
	ID        string
	OrgID     string
	Method    string
	Success   bool
	LatencyMS int64
	CreatedAt time.Time
}

// UsageFilter specifies filtering options for usage aggregation.
type UsageFilter struct {
	Since *time.Time
	Until *time.Time
}

// UsageStats aggregates chain proxy usage for an organization.
type UsageStats struct {
	RequestCount int64
	ErrorCount   int64
	ByMethod     map[string]int64
}

// UsageStore defines methods for chain usage metering.
type UsageStore interface {
	SaveChainUsage(ctx context.Context, usage *ChainUsage) error
	GetChainUsageStats(ctx context.Context, orgID string, filter UsageFilter) (*UsageStats, error)
}

var _ UsageStore = (*SQLiteStore)(nil)

// SaveChainUsage stores one metered chain request.
func (s *SQLiteStore) SaveChainUsage(ctx context.Context, usage *ChainUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO chain_usage (id, org_id, method, success, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.OrgID,
		usage.Method,
		boolToInt(usage.Success),
		usage.LatencyMS,
		fmtTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting chain usage: %w", err)
	}

	s.logger.Debug("saved chain usage",
		"org_id", usage.OrgID,
		"method", usage.Method,
		"success", usage.Success,
	)
	return nil
}

// GetChainUsageStats returns aggregated usage statistics with optional time bounds.
func (s *SQLiteStore) GetChainUsageStats(ctx context.Context, orgID string, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as request_count,
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0) as error_count
		FROM chain_usage
		WHERE org_id = ?
	`
	args := []any{orgID}

	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, fmtTime(*filter.Until))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.RequestCount,
		&stats.ErrorCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	// Per-method breakdown with the same bounds
	methodQuery := `SELECT method, COUNT(*) FROM chain_usage WHERE org_id = ?`
	methodArgs := []any{orgID}
	if filter.Since != nil {
		methodQuery += " AND created_at >= ?"
		methodArgs = append(methodArgs, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		methodQuery += " AND created_at < ?"
		methodArgs = append(methodArgs, fmtTime(*filter.Until))
	}
	methodQuery += " GROUP BY method"

	rows, err := s.db.QueryContext(ctx, methodQuery, methodArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying per-method usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats.ByMethod = make(map[string]int64)
	for rows.Next() {
		var method string
		var count int64
		if err := rows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("scanning per-method usage: %w", err)
		}
		stats.ByMethod[method] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating per-method usage: %w", err)
	}
	return &stats, nil
}
