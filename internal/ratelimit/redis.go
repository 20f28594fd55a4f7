// ABOUTME: Redis-backed sliding window rate limiter for multi-instance deployments
// ABOUTME: Uses a sorted set per key with scores set to request timestamps

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindow is a Limiter backed by Redis sorted sets, letting several
// console instances share one window per key.
type RedisWindow struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow creates a distributed sliding window limiter.
func NewRedisWindow(rdb *redis.Client, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		rdb:    rdb,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func windowKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// Allow checks and records one request for key.
//
// The member is written before counting, then removed again when the
// request turns out to be over the limit. Two racing requests can both
// be rejected at the boundary; the window never over-admits.
func (w *RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := w.now()
	cutoff := now.Add(-w.window)
	rkey := windowKey(key)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())

	pipe := w.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, rkey)
	oldestCmd := pipe.ZRangeWithScores(ctx, rkey, 0, 0)
	pipe.Expire(ctx, rkey, w.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("checking rate limit: %w", err)
	}

	count := int(countCmd.Val())
	if count > w.limit {
		if err := w.rdb.ZRem(ctx, rkey, member).Err(); err != nil {
			return Decision{}, fmt.Errorf("releasing rejected request: %w", err)
		}

		retry := w.window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retry = oldestAt.Add(w.window).Sub(now)
			if retry < 0 {
				retry = 0
			}
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	return Decision{Allowed: true, Remaining: w.limit - count}, nil
}
