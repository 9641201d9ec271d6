// Package ratelimit throttles repeated agent-authentication failures per
// client IP using Redis INCR+EXPIRE, the same pattern the ambient stack uses
// for user-login throttling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts failed attempts per key within a sliding window.
type Limiter struct {
	redis      *redis.Client
	keyPrefix  string
	maxAttempt int
	window     time.Duration
}

func NewLimiter(rdb *redis.Client, keyPrefix string, maxAttempt int, window time.Duration) *Limiter {
	return &Limiter{redis: rdb, keyPrefix: keyPrefix, maxAttempt: maxAttempt, window: window}
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Check reports whether key is still under the attempt ceiling. A nil
// Limiter (no Redis configured) always allows, so rate limiting is an
// optional ambient concern rather than a hard dependency.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	if l == nil || l.redis == nil {
		return Result{Allowed: true}, nil
	}

	redisKey := l.keyPrefix + ":" + key
	count, err := l.redis.Get(ctx, redisKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= l.maxAttempt {
		ttl, err := l.redis.TTL(ctx, redisKey).Result()
		if err != nil {
			return Result{}, fmt.Errorf("getting rate limit ttl: %w", err)
		}
		return Result{Allowed: false, RetryAt: time.Now().Add(ttl)}, nil
	}
	return Result{Allowed: true, Remaining: l.maxAttempt - count}, nil
}

// RecordFailure increments the failure counter for key, starting its window
// on the first failure.
func (l *Limiter) RecordFailure(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	redisKey := l.keyPrefix + ":" + key

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit failure: %w", err)
	}
	if incr.Val() == 1 {
		l.redis.Expire(ctx, redisKey, l.window)
	}
	return nil
}

// Reset clears the failure counter for key, on a successful attempt.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, l.keyPrefix+":"+key).Err()
}
