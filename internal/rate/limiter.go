package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter tracks validation failures per session and enforces lockout
// windows using Redis counters. Thresholds are supplied per call so the
// same limiter serves tenants with different policies.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] backed by the given Redis client. All keys
// are namespaced under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) failureKey(sessionID string) string {
	return l.prefix + ":vf:" + sessionID
}

func (l *Limiter) lockoutKey(sessionID string) string {
	return l.prefix + ":vl:" + sessionID
}

// CheckLockout returns [ErrLockedOut] when the session has an active
// lockout flag.
func (l *Limiter) CheckLockout(ctx context.Context, sessionID string) error {
	n, err := l.redis.Exists(ctx, l.lockoutKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n > 0 {
		return ErrLockedOut
	}
	return nil
}

// RecordFailure increments the session's failure counter inside a fixed
// window and, when maxFailures is positive and reached, arms the
// lockout flag for lockout. It returns the counter value after the
// increment.
func (l *Limiter) RecordFailure(ctx context.Context, sessionID string, window time.Duration, maxFailures int, lockout time.Duration) (int64, error) {
	count, err := l.incrementWithTTL(ctx, l.failureKey(sessionID), window)
	if err != nil {
		return 0, err
	}

	if maxFailures > 0 && count >= int64(maxFailures) && lockout > 0 {
		if err := l.redis.Set(ctx, l.lockoutKey(sessionID), count, lockout).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

// Failures returns the current failure counter for a session. Missing
// keys return zero.
func (l *Limiter) Failures(ctx context.Context, sessionID string) (int, error) {
	count, err := l.redis.Get(ctx, l.failureKey(sessionID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the failure counter and lockout flag. Called after a
// successful reauthentication.
func (l *Limiter) Reset(ctx context.Context, sessionID string) error {
	keys := []string{l.failureKey(sessionID), l.lockoutKey(sessionID)}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 && ttl > 0 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
