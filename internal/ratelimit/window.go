// ABOUTME: In-memory sliding window rate limiter keyed by organization
// ABOUTME: Thread-safe with bounded key count and periodic sweep of idle keys

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is an in-memory Limiter that keeps per-key request
// timestamps and counts those inside the window on each check.
type SlidingWindow struct {
	mu      sync.Mutex
	keys    map[string][]time.Time
	limit   int
	window  time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// WindowOption configures a SlidingWindow.
type WindowOption func(*SlidingWindow)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) WindowOption {
	return func(w *SlidingWindow) { w.now = now }
}

// WithMaxKeys bounds how many keys are tracked before oldest-idle eviction.
func WithMaxKeys(n int) WindowOption {
	return func(w *SlidingWindow) { w.maxKeys = n }
}

// NewSlidingWindow creates a limiter allowing limit requests per window
// for each key. A background goroutine sweeps idle keys.
func NewSlidingWindow(limit int, window time.Duration, opts ...WindowOption) *SlidingWindow {
	w := &SlidingWindow{
		keys:    make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		maxKeys: 10000,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.sweep()
	return w
}

// Allow checks and records one request for key.
func (w *SlidingWindow) Allow(_ context.Context, key string) (Decision, error) {
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	stamps := trimBefore(w.keys[key], cutoff)

	if len(stamps) >= w.limit {
		// Window frees up when the oldest counted request ages out
		retry := stamps[0].Add(w.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		w.keys[key] = stamps
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	if _, tracked := w.keys[key]; !tracked && len(w.keys) >= w.maxKeys {
		w.evictIdlest(cutoff)
	}

	stamps = append(stamps, now)
	w.keys[key] = stamps
	return Decision{Allowed: true, Remaining: w.limit - len(stamps)}, nil
}

// trimBefore drops timestamps older than cutoff, keeping order.
func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

// evictIdlest removes the key whose newest request is oldest.
// Must be called with mu held.
func (w *SlidingWindow) evictIdlest(cutoff time.Time) {
	var victim string
	var oldest time.Time
	for key, stamps := range w.keys {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(w.keys, key)
			return
		}
		newest := stamps[len(stamps)-1]
		if victim == "" || newest.Before(oldest) {
			victim, oldest = key, newest
		}
	}
	if victim != "" {
		delete(w.keys, victim)
	}
}

// sweep runs in a background goroutine, periodically removing idle keys.
func (w *SlidingWindow) sweep() {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			cutoff := w.now().Add(-w.window)
			w.mu.Lock()
			for key, stamps := range w.keys {
				if trimmed := trimBefore(stamps, cutoff); len(trimmed) == 0 {
					delete(w.keys, key)
				} else {
					w.keys[key] = trimmed
				}
			}
			w.mu.Unlock()
		}
	}
}

// Close stops the background sweeper. Safe to call once.
func (w *SlidingWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}
