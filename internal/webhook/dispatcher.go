// ABOUTME: Webhook dispatcher signing and delivering events to subscriber endpoints
// ABOUTME: Worker pool with bounded attempts per delivery and full history recording

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hexlayer/console/internal/metrics"
	"github.com/hexlayer/console/internal/store"
)

// Delivery headers
const (
	HeaderEvent     = "X-Hexlayer-Event"
	HeaderDelivery  = "X-Hexlayer-Delivery"
	HeaderSignature = "X-Hexlayer-Signature"
)

// job is one endpoint delivery queued for a worker.
type job struct {
	hook  *store.Webhook
	event Event
}

// Dispatcher delivers events to subscribed webhook endpoints.
//
// Publishing looks up the org's enabled subscribers and queues one job
// per endpoint. Workers attempt each delivery up to maxAttempts times
// with a fixed wait between attempts, recording every attempt. The
// queue drains on Close.
type Dispatcher struct {
	store        store.WebhookStore
	client       *http.Client
	maxAttempts  int
	retrySpacing time.Duration
	queue        chan job
	done         chan struct{}
	dedupe       *seenCache
	logger       *slog.Logger
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Workers      int           // delivery goroutines, default 4
	MaxAttempts  int           // attempts per delivery, default 3
	RetrySpacing time.Duration // wait between failed attempts, default 30s
	Timeout      time.Duration // per-request timeout, default 10s
	QueueSize    int           // pending deliveries before Publish drops, default 256
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(s store.WebhookStore, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetrySpacing <= 0 {
		opts.RetrySpacing = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	d := &Dispatcher{
		store:        s,
		client:       &http.Client{Timeout: opts.Timeout},
		maxAttempts:  opts.MaxAttempts,
		retrySpacing: opts.RetrySpacing,
		queue:        make(chan job, opts.QueueSize),
		done:         make(chan struct{}),
		dedupe:       newSeenCache(10*time.Minute, 10000),
		logger:       slog.Default().With("component", "webhook-dispatcher"),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish queues the event for delivery to every subscribed endpoint.
// Implements the bus Handler signature.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	hooks, err := d.store.ListWebhooksByEvent(ctx, event.OrgID, event.Type)
	if err != nil {
		d.logger.Error("listing webhooks", "org_id", event.OrgID, "event", event.Type, "error", err)
		return
	}

	for _, hook := range hooks {
		if d.dedupe.checkAndMark(event.ID + ":" + hook.ID) {
			d.logger.Debug("skipping duplicate delivery", "event_id", event.ID, "webhook_id", hook.ID)
			continue
		}

		select {
		case d.queue <- job{hook: hook, event: event}:
		default:
			d.logger.Warn("delivery queue full, dropping event",
				"event_id", event.ID, "webhook_id", hook.ID)
		}
	}
}

// worker delivers queued jobs until the queue closes.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

// deliver attempts one job up to maxAttempts times, waiting retrySpacing
// between attempts and recording each one. Close interrupts the wait and
// abandons the remaining attempts.
func (d *Dispatcher) deliver(j job) {
	payload, err := json.Marshal(j.event)
	if err != nil {
		d.logger.Error("marshaling event payload", "event_id", j.event.ID, "error", err)
		return
	}

	deliveryID := uuid.New().String()
	ctx := context.Background()

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		status, err := d.send(ctx, j.hook, deliveryID, j.event.Type, payload)

		record := &store.WebhookDelivery{
			WebhookID: j.hook.ID,
			EventType: j.event.Type,
			Payload:   string(payload),
			Attempt:   attempt,
		}

		if err == nil && status >= 200 && status < 300 {
			now := time.Now().UTC()
			record.Status = store.DeliveryDelivered
			record.ResponseStatus = &status
			record.DeliveredAt = &now
			d.record(record)
			metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			return
		}

		record.Status = store.DeliveryFailed
		if err != nil {
			record.Error = err.Error()
		} else {
			record.ResponseStatus = &status
			record.Error = fmt.Sprintf("endpoint returned %d", status)
		}
		d.record(record)
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()

		d.logger.Warn("webhook delivery failed",
			"webhook_id", j.hook.ID,
			"event", j.event.Type,
			"attempt", attempt,
			"error", record.Error,
		)

		if attempt < d.maxAttempts {
			select {
			case <-time.After(d.retrySpacing):
			case <-d.done:
				d.logger.Warn("shutting down, abandoning retries",
					"webhook_id", j.hook.ID, "event_id", j.event.ID)
				return
			}
		}
	}
}

// send posts the signed payload to the endpoint and returns the HTTP status.
func (d *Dispatcher) send(ctx context.Context, hook *store.Webhook, deliveryID, eventType string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderSignature, Sign(hook.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// record stores a delivery attempt; failures are logged, not propagated.
func (d *Dispatcher) record(delivery *store.WebhookDelivery) {
	if err := d.store.RecordDelivery(context.Background(), delivery); err != nil {
		d.logger.Error("recording delivery", "webhook_id", delivery.WebhookID, "error", err)
	}
}

// DeliverTo sends the event to one endpoint synchronously, bypassing
// subscription matching. Used by workflow webhook steps, which need the
// outcome to decide whether the run continues.
func (d *Dispatcher) DeliverTo(ctx context.Context, webhookID string, event Event) error {
	hook, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return fmt.Errorf("loading webhook: %w", err)
	}
	if hook.Status != store.WebhookEnabled {
		return fmt.Errorf("webhook %s is disabled", webhookID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}

	status, err := d.send(ctx, hook, uuid.New().String(), event.Type, payload)

	record := &store.WebhookDelivery{
		WebhookID: hook.ID,
		EventType: event.Type,
		Payload:   string(payload),
		Attempt:   1,
	}
	if err == nil && status >= 200 && status < 300 {
		now := time.Now().UTC()
		record.Status = store.DeliveryDelivered
		record.ResponseStatus = &status
		record.DeliveredAt = &now
		d.record(record)
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		return nil
	}

	record.Status = store.DeliveryFailed
	if err != nil {
		record.Error = err.Error()
	} else {
		record.ResponseStatus = &status
		record.Error = fmt.Sprintf("endpoint returned %d", status)
	}
	d.record(record)
	metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()

	if err != nil {
		return err
	}
	return fmt.Errorf("endpoint returned %d", status)
}

// Close stops accepting events and waits for queued deliveries to drain.
// Deliveries waiting to retry are abandoned; each still-queued job gets
// at most one more attempt.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		close(d.queue)
	})
	d.wg.Wait()
}

// Sign computes the payload signature sent in X-Hexlayer-Signature:
// "sha256=" followed by the hex HMAC-SHA256 of the body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign. Receivers use this
// to authenticate deliveries.
func VerifySignature(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
