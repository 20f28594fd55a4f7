// ABOUTME: Per-key token bucket smoothing bursts ahead of the sliding window
// ABOUTME: Buckets are cached per key and idle ones are cleaned up periodically

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BurstGuard caches a token bucket per key. It smooths spikes that the
// coarse window would admit all at once.
type BurstGuard struct {
	mu      sync.Mutex
	entries map[string]*burstEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type burstEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewBurstGuard creates a guard allowing rps sustained requests per key
// with the given burst size.
func NewBurstGuard(rps float64, burst int) *BurstGuard {
	return &BurstGuard{
		entries: make(map[string]*burstEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
	}
}

// get returns the bucket for key, creating it on first use.
func (g *BurstGuard) get(key string) *rate.Limiter {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if ent, ok := g.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(g.rps, g.burst)
	g.entries[key] = &burstEntry{lim: lim, lastSeen: now}
	return lim
}

// Allow consumes one token for key.
func (g *BurstGuard) Allow(key string) bool {
	return g.get(key).Allow()
}

// Cleanup removes buckets idle longer than the TTL.
func (g *BurstGuard) Cleanup() {
	cutoff := time.Now().Add(-g.idleTTL)

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, ent := range g.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(g.entries, k)
		}
	}
}

// StartJanitor cleans idle buckets until the context is cancelled.
func (g *BurstGuard) StartJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Cleanup()
			}
		}
	}()
}

// TwoStage applies a burst guard before the window limiter. A request
// must pass both; burst rejections report a one-second retry.
type TwoStage struct {
	Guard  *BurstGuard
	Window Limiter
}

// Allow checks the burst guard, then the window.
func (t *TwoStage) Allow(ctx context.Context, key string) (Decision, error) {
	if !t.Guard.Allow(key) {
		return Decision{Allowed: false, RetryAfter: time.Second}, nil
	}
	return t.Window.Allow(ctx, key)
}
