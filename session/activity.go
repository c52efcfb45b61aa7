package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AppendActivity records one serialized activity event for a session.
// Events are append-only; the list is capped at maxEvents and expires with
// the retention window so history never outlives its usefulness.
func (s *Store) AppendActivity(ctx context.Context, sessionID string, payload []byte, maxEvents int, retention time.Duration) error {
	if maxEvents <= 0 {
		maxEvents = 100
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	key := s.activityKey(sessionID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-maxEvents), -1)
		pipe.Expire(ctx, key, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RecentActivity returns up to n most recent serialized events, oldest first.
func (s *Store) RecentActivity(ctx context.Context, sessionID string, n int) ([][]byte, error) {
	if n <= 0 {
		n = 20
	}
	values, err := s.redis.LRange(ctx, s.activityKey(sessionID), int64(-n), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// RecordAccessHour increments the user's hour-of-day histogram. The
// histogram feeds the off-hours anomaly factor and decays by full-key
// expiry rather than per-bucket aging.
func (s *Store) RecordAccessHour(ctx context.Context, tenantID, userID string, hour int, retention time.Duration) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("invalid hour %d", hour)
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	key := s.hourKey(tenantID, userID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, strconv.Itoa(hour), 1)
		pipe.Expire(ctx, key, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AccessHourCounts returns the user's 24-bucket hour-of-day histogram.
func (s *Store) AccessHourCounts(ctx context.Context, tenantID, userID string) ([24]int64, error) {
	var counts [24]int64
	raw, err := s.redis.HGetAll(ctx, s.hourKey(tenantID, userID)).Result()
	if err != nil {
		return counts, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for field, value := range raw {
		hour, err := strconv.Atoi(field)
		if err != nil || hour < 0 || hour > 23 {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		counts[hour] = n
	}
	return counts, nil
}

// ClaimLoginAttempt reserves an idempotency key for one login attempt.
// The first caller claims the key and proceeds to create a session; any
// retry within the window observes the claim and must not create another.
func (s *Store) ClaimLoginAttempt(ctx context.Context, idempotencyKey, sessionID string, window time.Duration) (bool, string, error) {
	if window <= 0 {
		window = 5 * time.Minute
	}
	key := s.attemptKey(idempotencyKey)

	claimed, err := s.redis.SetNX(ctx, key, sessionID, window).Result()
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if claimed {
		return true, sessionID, nil
	}

	existing, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Claim expired between SETNX and GET; treat as lost.
			return false, "", nil
		}
		return false, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return false, existing, nil
}

// FulfillLoginAttempt records the created session ID on an existing claim
// in one write, preserving the claim's remaining TTL. The claim key is
// never unheld in between, so a concurrent retry observes either the empty
// claim or the finished one, never a gap it could fill with a second
// session.
func (s *Store) FulfillLoginAttempt(ctx context.Context, idempotencyKey, sessionID string, window time.Duration) error {
	if window <= 0 {
		window = 5 * time.Minute
	}
	key := s.attemptKey(idempotencyKey)

	err := s.redis.SetArgs(ctx, key, sessionID, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		// Claim expired mid-create; re-arm it for a fresh window.
		err = s.redis.SetNX(ctx, key, sessionID, window).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ReleaseLoginAttempt drops an idempotency claim after a failed creation so
// a clean retry is possible once the failure is resolved.
func (s *Store) ReleaseLoginAttempt(ctx context.Context, idempotencyKey string) error {
	if err := s.redis.Del(ctx, s.attemptKey(idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
