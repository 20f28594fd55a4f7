// ABOUTME: Thread-safe TTL cache preventing duplicate webhook deliveries
// ABOUTME: Keys are event/endpoint pairs; oldest entries are evicted at capacity

package webhook

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry stores the timestamp and list element for a cached key.
type seenEntry struct {
	timestamp time.Time
	element   *list.Element
}

// seenCache tracks recently dispatched event/endpoint pairs so replayed
// events are not delivered twice. Uses a doubly-linked list to maintain
// insertion order for O(1) eviction.
type seenCache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
}

// newSeenCache creates a cache with the specified TTL and maximum size.
func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// checkAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new
// and now marked.
func (c *seenCache) checkAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	now := time.Now()
	if entry != nil {
		// Expired entry for the same key: refresh in place
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &seenEntry{timestamp: now, element: elem}
	return false
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *seenCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
