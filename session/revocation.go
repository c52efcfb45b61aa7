package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocation storage. Two shapes:
//
//   - single-token tombstones keyed by jti, expiring with the token, and
//   - per-session chain floors: the highest revoked generation for a
//     session. Tokens at or below the floor are dead; only tokens minted
//     by rotations after the revocation stay valid.

// RevokeToken tombstones a single token ID until its natural expiry.
// Idempotent.
func (s *Store) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.redis.Set(ctx, s.revokedTokenKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsTokenRevoked reports whether a token ID has been tombstoned.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.redis.Get(ctx, s.revokedTokenKey(jti)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return true, nil
}

// raiseChainFloorScript merges a new floor atomically: floors only rise,
// and an existing floor's TTL never shrinks. Concurrent revocations land
// on the maximum regardless of arrival order. The floor is written back
// from ARGV verbatim; Lua number formatting would mangle large values.
const raiseChainFloorScript = `
local key = KEYS[1]
local gen = tonumber(ARGV[1])
local px = tonumber(ARGV[2])
local current = tonumber(redis.call("GET", key))
if current and current >= gen then
  return 0
end
local remaining = redis.call("PTTL", key)
if remaining > px then
  px = remaining
end
redis.call("SET", key, ARGV[1], "PX", px)
return 1
`

var raiseChainFloorLua = redis.NewScript(raiseChainFloorScript)

// RevokeChainFrom records that every refresh generation <= gen for the
// session is revoked. A higher existing floor is kept: floors only rise,
// so a late revocation of a stale low-generation token can never narrow
// an earlier, wider revocation.
func (s *Store) RevokeChainFrom(ctx context.Context, sessionID string, gen int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := s.chainFloorKey(sessionID)

	err := raiseChainFloorLua.Run(ctx, s.redis, []string{key}, gen, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ChainFloor returns the highest revoked generation for a session, if any.
func (s *Store) ChainFloor(ctx context.Context, sessionID string) (int64, bool, error) {
	floor, err := s.redis.Get(ctx, s.chainFloorKey(sessionID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return floor, true, nil
}
