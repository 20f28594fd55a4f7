// ABOUTME: Console event type and in-process fan-out bus
// ABOUTME: Handlers subscribe once at startup; publishing never blocks on them

package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is something that happened in the console worth telling
// subscribers about, e.g. "page.published" or "org.suspended".
type Event struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	Type       string         `json:"type"`
	Actor      string         `json:"actor,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(orgID, eventType, actor string, payload map[string]any) Event {
	return Event{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		Type:       eventType,
		Actor:      actor,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Handler consumes published events. Handlers must not block; slow work
// belongs behind the handler's own queue.
type Handler func(ctx context.Context, event Event)

// Bus fans events out to subscribed handlers in process.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every handler in subscription order.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}
