// ABOUTME: Audit log entity and store methods for tracking administrative actions
// ABOUTME: Records who did what to which resource within each organization

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditCreateOrg        AuditAction = "create_org"
	AuditUpdateOrg        AuditAction = "update_org"
	AuditSuspendOrg       AuditAction = "suspend_org"
	AuditReactivateOrg    AuditAction = "reactivate_org"
	AuditCreateUser       AuditAction = "create_user"
	AuditUpdateUser       AuditAction = "update_user"
	AuditInviteUser       AuditAction = "invite_user"
	AuditDisableUser      AuditAction = "disable_user"
	AuditCreatePage       AuditAction = "create_page"
	AuditUpdatePage       AuditAction = "update_page"
	AuditPublishPage      AuditAction = "publish_page"
	AuditArchivePage      AuditAction = "archive_page"
	AuditDeletePage       AuditAction = "delete_page"
	AuditCreateOAuthApp   AuditAction = "create_oauth_app"
	AuditUpdateOAuthApp   AuditAction = "update_oauth_app"
	AuditRotateOAuthApp   AuditAction = "rotate_oauth_secret"
	AuditDeleteOAuthApp   AuditAction = "delete_oauth_app"
	AuditCreateAPIKey     AuditAction = "create_api_key"
	AuditRevokeAPIKey     AuditAction = "revoke_api_key"
	AuditCreateWebhook    AuditAction = "create_webhook"
	AuditUpdateWebhook    AuditAction = "update_webhook"
	AuditDeleteWebhook    AuditAction = "delete_webhook"
	AuditCreateWorkflow   AuditAction = "create_workflow"
	AuditUpdateWorkflow   AuditAction = "update_workflow"
	AuditDeleteWorkflow   AuditAction = "delete_workflow"
	AuditTriggerWorkflow  AuditAction = "trigger_workflow"
	AuditCreateFacet      AuditAction = "create_facet"
	AuditUpdateFacet      AuditAction = "update_facet"
	AuditDeleteFacet      AuditAction = "delete_facet"
	AuditCutDiamond       AuditAction = "cut_diamond"
	AuditCreateToken      AuditAction = "create_token"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID          string         // UUID v4
	OrgID       string         // owning organization
	ActorUserID string         // who performed the action
	Action      AuditAction    // what action was performed
	TargetType  string         // "org", "user", "page", "webhook", ...
	TargetID    string         // ID of the affected resource
	Timestamp   time.Time      // when it happened
	Detail      map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since       *time.Time
	Until       *time.Time
	ActorUserID *string
	Action      *AuditAction
	TargetType  *string
	TargetID    *string
	Limit       int // default 100, max 1000
}

// AuditStore defines methods for audit log persistence.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, orgID string, f AuditFilter) ([]AuditEntry, error)
	AuditActivity(ctx context.Context, orgID string, since, until time.Time) ([]ActivityBucket, error)
}

// ActivityBucket is a per-day count of audit entries.
type ActivityBucket struct {
	Day   string // YYYY-MM-DD
	Count int
}

var _ AuditStore = (*SQLiteStore)(nil)

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, org_id, actor_user_id, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.OrgID,
		e.ActorUserID,
		e.Action,
		e.TargetType,
		e.TargetID,
		fmtTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"org_id", e.OrgID,
		"actor", e.ActorUserID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT audit_id, org_id, actor_user_id, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE org_id = ?
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor_user_id = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR target_type = ?)
	  AND (? IS NULL OR target_id = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries for an organization matching the filter.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, orgID string, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var sinceStr, untilStr, actionStr *string
	if f.Since != nil {
		v := fmtTime(*f.Since)
		sinceStr = &v
	}
	if f.Until != nil {
		v := fmtTime(*f.Until)
		untilStr = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		actionStr = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		orgID,
		sinceStr, sinceStr,
		untilStr, untilStr,
		f.ActorUserID, f.ActorUserID,
		actionStr, actionStr,
		f.TargetType, f.TargetType,
		f.TargetID, f.TargetID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// AuditActivity counts audit entries per day within a window, oldest day first.
func (s *SQLiteStore) AuditActivity(ctx context.Context, orgID string, since, until time.Time) ([]ActivityBucket, error) {
	query := `
		SELECT substr(ts, 1, 10) as day, COUNT(*)
		FROM audit_log
		WHERE org_id = ? AND ts >= ? AND ts <= ?
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, fmtTime(since), fmtTime(until))
	if err != nil {
		return nil, fmt.Errorf("querying audit activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []ActivityBucket
	for rows.Next() {
		var b ActivityBucket
		if err := rows.Scan(&b.Day, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning activity bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity buckets: %w", err)
	}
	return buckets, nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.OrgID,
		&e.ActorUserID,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	if e.Timestamp, err = parseTime(tsStr); err != nil {
		return e, err
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
