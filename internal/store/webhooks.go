// ABOUTME: Webhook endpoint and delivery record persistence
// ABOUTME: Delivery rows keep the full attempt history per endpoint

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebhookStatus represents whether an endpoint receives deliveries.
type WebhookStatus string

const (
	WebhookEnabled  WebhookStatus = "enabled"
	WebhookDisabled WebhookStatus = "disabled"
)

// DeliveryStatus represents the outcome of a webhook delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Webhook is a subscriber endpoint for console events.
type Webhook struct {
	ID        string
	OrgID     string
	URL       string
	Secret    string // HMAC-SHA256 signing key
	Events    []string
	Status    WebhookStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscribed reports whether the webhook subscribes to an event type.
// An empty event list subscribes to everything.
func (w *Webhook) Subscribed(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery records one delivery attempt to an endpoint.
type WebhookDelivery struct {
	ID             string
	WebhookID      string
	EventType      string
	Payload        string // JSON body as sent
	Attempt        int
	Status         DeliveryStatus
	ResponseStatus *int
	Error          string
	DeliveredAt    *time.Time
	CreatedAt      time.Time
}

// WebhookStore defines methods for webhook and delivery persistence.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, hook *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	UpdateWebhook(ctx context.Context, hook *Webhook) error
	ListWebhooks(ctx context.Context, orgID string) ([]*Webhook, error)
	ListWebhooksByEvent(ctx context.Context, orgID, eventType string) ([]*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	RecordDelivery(ctx context.Context, delivery *WebhookDelivery) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error)
	DeliveryStats(ctx context.Context, orgID string, since time.Time) ([]WebhookHealth, error)
}

// WebhookHealth aggregates delivery outcomes for one endpoint.
type WebhookHealth struct {
	WebhookID string
	URL       string
	Total     int
	Delivered int
	Failed    int
}

var _ WebhookStore = (*SQLiteStore)(nil)

// CreateWebhook creates a new webhook endpoint.
func (s *SQLiteStore) CreateWebhook(ctx context.Context, hook *Webhook) error {
	if hook.ID == "" {
		hook.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if hook.CreatedAt.IsZero() {
		hook.CreatedAt = now
	}
	if hook.UpdatedAt.IsZero() {
		hook.UpdatedAt = now
	}
	if hook.Status == "" {
		hook.Status = WebhookEnabled
	}

	events, err := marshalStrings(hook.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, org_id, url, secret, events_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		hook.ID,
		hook.OrgID,
		hook.URL,
		hook.Secret,
		events,
		hook.Status,
		fmtTime(hook.CreatedAt),
		fmtTime(hook.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting webhook: %w", err)
	}

	s.logger.Debug("created webhook", "id", hook.ID, "org_id", hook.OrgID, "url", hook.URL)
	return nil
}

const webhookColumns = `id, org_id, url, secret, events_json, status, created_at, updated_at`

// GetWebhook retrieves a webhook by ID.
func (s *SQLiteStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	return scanWebhook(row)
}

// UpdateWebhook updates URL, secret, subscriptions, and status.
func (s *SQLiteStore) UpdateWebhook(ctx context.Context, hook *Webhook) error {
	hook.UpdatedAt = time.Now().UTC()

	events, err := marshalStrings(hook.Events)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhooks
		SET url = ?, secret = ?, events_json = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		hook.URL,
		hook.Secret,
		events,
		hook.Status,
		fmtTime(hook.UpdatedAt),
		hook.ID,
	)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
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

// ListWebhooks returns all webhooks in an organization.
func (s *SQLiteStore) ListWebhooks(ctx context.Context, orgID string) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectWebhooks(rows)
}

// ListWebhooksByEvent returns enabled webhooks in an org subscribed to an event type.
func (s *SQLiteStore) ListWebhooksByEvent(ctx context.Context, orgID, eventType string) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE org_id = ? AND status = 'enabled'`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hooks, err := collectWebhooks(rows)
	if err != nil {
		return nil, err
	}

	// Subscription matching happens here; events_json is opaque to SQLite
	var matched []*Webhook
	for _, h := range hooks {
		if h.Subscribed(eventType) {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

// DeleteWebhook removes a webhook endpoint and its delivery history.
func (s *SQLiteStore) DeleteWebhook(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE webhook_id = ?`, id); err != nil {
		return fmt.Errorf("deleting webhook deliveries: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
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

// collectWebhooks scans all rows into webhooks.
func collectWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var hooks []*Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhooks: %w", err)
	}
	return hooks, nil
}

// scanWebhook scans a row into a Webhook.
func scanWebhook(scanner interface{ Scan(dest ...any) error }) (*Webhook, error) {
	var hook Webhook
	var eventsJSON, statusStr, createdStr, updatedStr string

	err := scanner.Scan(
		&hook.ID,
		&hook.OrgID,
		&hook.URL,
		&hook.Secret,
		&eventsJSON,
		&statusStr,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webhook: %w", err)
	}

	hook.Status = WebhookStatus(statusStr)
	if err := json.Unmarshal([]byte(eventsJSON), &hook.Events); err != nil {
		return nil, fmt.Errorf("unmarshaling events: %w", err)
	}

	if hook.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if hook.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &hook, nil
}

// RecordDelivery stores a webhook delivery attempt.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, delivery *WebhookDelivery) error {
	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now().UTC()
	}
	if delivery.Attempt <= 0 {
		delivery.Attempt = 1
	}
	if delivery.Status == "" {
		delivery.Status = DeliveryPending
	}

	var responseStatus any
	if delivery.ResponseStatus != nil {
		responseStatus = *delivery.ResponseStatus
	}

	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload_json, attempt, status, response_status, error, delivered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.WebhookID,
		delivery.EventType,
		delivery.Payload,
		delivery.Attempt,
		delivery.Status,
		responseStatus,
		nullString(delivery.Error),
		nullTime(delivery.DeliveredAt),
		fmtTime(delivery.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns delivery records for a webhook, newest first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, webhook_id, event_type, payload_json, attempt, status, response_status, error, delivered_at, created_at
		FROM webhook_deliveries
		WHERE webhook_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deliveries []*WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		var statusStr, createdStr string
		var responseStatus sql.NullInt64
		var errStr, deliveredAt sql.NullString

		err := rows.Scan(
			&d.ID,
			&d.WebhookID,
			&d.EventType,
			&d.Payload,
			&d.Attempt,
			&statusStr,
			&responseStatus,
			&errStr,
			&deliveredAt,
			&createdStr,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}

		d.Status = DeliveryStatus(statusStr)
		if responseStatus.Valid {
			code := int(responseStatus.Int64)
			d.ResponseStatus = &code
		}
		if errStr.Valid {
			d.Error = errStr.String
		}
		if d.DeliveredAt, err = parseNullTime(deliveredAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}
	return deliveries, nil
}

// DeliveryStats aggregates delivery outcomes per endpoint for an organization.
func (s *SQLiteStore) DeliveryStats(ctx context.Context, orgID string, since time.Time) ([]WebhookHealth, error) {
	query := `
		SELECT w.id, w.url,
			COUNT(d.id) as total,
			COALESCE(SUM(CASE WHEN d.status = 'delivered' THEN 1 ELSE 0 END), 0) as delivered,
			COALESCE(SUM(CASE WHEN d.status = 'failed' THEN 1 ELSE 0 END), 0) as failed
		FROM webhooks w
		LEFT JOIN webhook_deliveries d ON d.webhook_id = w.id AND d.created_at >= ?
		WHERE w.org_id = ?
		GROUP BY w.id, w.url
		ORDER BY w.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, fmtTime(since), orgID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []WebhookHealth
	for rows.Next() {
		var h WebhookHealth
		if err := rows.Scan(&h.WebhookID, &h.URL, &h.Total, &h.Delivered, &h.Failed); err != nil {
			return nil, fmt.Errorf("scanning delivery stats: %w", err)
		}
		stats = append(stats, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery stats: %w", err)
	}
	return stats, nil
}
