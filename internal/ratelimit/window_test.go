// ABOUTME: Tests for the in-memory sliding window limiter with a fake clock
// ABOUTME: Covers window rollover, retry-after, key isolation, and eviction

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a mutable time source for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(3, time.Minute, WithClock(clock.Now))
	defer w.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := w.Allow(ctx, "org-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := w.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestSlidingWindow_SlidesForward(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(2, time.Minute, WithClock(clock.Now))
	defer w.Close()
	ctx := context.Background()

	// Two requests 40s apart fill the window
	d, _ := w.Allow(ctx, "org-1")
	assert.True(t, d.Allowed)
	clock.Advance(40 * time.Second)
	d, _ = w.Allow(ctx, "org-1")
	assert.True(t, d.Allowed)

	d, _ = w.Allow(ctx, "org-1")
	assert.False(t, d.Allowed)
	// The first request ages out in 20s
	assert.Equal(t, 20*time.Second, d.RetryAfter)

	clock.Advance(21 * time.Second)
	d, _ = w.Allow(ctx, "org-1")
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(1, time.Minute, WithClock(clock.Now))
	defer w.Close()
	ctx := context.Background()

	d, _ := w.Allow(ctx, "org-1")
	assert.True(t, d.Allowed)
	d, _ = w.Allow(ctx, "org-1")
	assert.False(t, d.Allowed)

	// A different org has its own window
	d, _ = w.Allow(ctx, "org-2")
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_RejectionsNotCounted(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(1, time.Minute, WithClock(clock.Now))
	defer w.Close()
	ctx := context.Background()

	d, _ := w.Allow(ctx, "org-1")
	assert.True(t, d.Allowed)

	// Hammering while limited must not extend the wait
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		d, _ = w.Allow(ctx, "org-1")
		assert.False(t, d.Allowed)
	}

	clock.Advance(56 * time.Second) // 61s since the allowed request
	d, _ = w.Allow(ctx, "org-1")
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_MaxKeysEviction(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(10, time.Minute, WithClock(clock.Now), WithMaxKeys(2))
	defer w.Close()
	ctx := context.Background()

	_, err := w.Allow(ctx, "org-1")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = w.Allow(ctx, "org-2")
	require.NoError(t, err)
	clock.Advance(time.Second)

	// Third key evicts the idlest; tracking stays bounded
	_, err = w.Allow(ctx, "org-3")
	require.NoError(t, err)

	w.mu.Lock()
	tracked := len(w.keys)
	w.mu.Unlock()
	assert.LessOrEqual(t, tracked, 2)
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	w := NewSlidingWindow(50, time.Minute)
	defer w.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := w.Allow(ctx, "org-1")
			require.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestBurstGuard(t *testing.T) {
	g := NewBurstGuard(1, 2)

	// Burst of 2 passes, third is smoothed out
	assert.True(t, g.Allow("org-1"))
	assert.True(t, g.Allow("org-1"))
	assert.False(t, g.Allow("org-1"))

	// Other keys unaffected
	assert.True(t, g.Allow("org-2"))
}

func TestTwoStage(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(10, time.Minute, WithClock(clock.Now))
	defer w.Close()

	two := &TwoStage{Guard: NewBurstGuard(1, 1), Window: w}
	ctx := context.Background()

	d, err := two.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Burst guard rejects before the window is consulted
	d, err = two.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}
