package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures so callers can
// fail closed without inspecting driver errors.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrGenerationConflict is returned by [Store.RotateGeneration] when the
// supplied generation does not match the session's current generation.
// Exactly one of two racing rotations observes the matching generation.
var ErrGenerationConflict = errors.New("refresh generation conflict")

// ErrSessionNotFound is returned when the target session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when the target session is past its expiry.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionNotActive is returned by mutating operations that require the
// Active state (rotation, quarantine).
var ErrSessionNotActive = errors.New("session not active")

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusExpired   int64 = 1
	rotateStatusMismatch  int64 = 2
	rotateStatusRotated   int64 = 3
	rotateStatusCorrupt   int64 = 4
	rotateStatusNotActive int64 = 5
)

// rotateGenerationScript is the atomic compare-and-swap at the core of
// refresh rotation. It succeeds only when the session exists, is Active,
// is unexpired, and the caller presents the current generation.
const rotateGenerationScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return {0}
end
local vals = redis.call("HMGET", key, "state", "expires_at", "gen")
local state = vals[1]
local expires_at = tonumber(vals[2])
local gen = tonumber(vals[3])
if not state or not expires_at or not gen then
  return {4}
end
local now = tonumber(ARGV[2])
if expires_at <= now then
  return {1}
end
if state ~= "active" then
  return {5}
end
if gen ~= tonumber(ARGV[1]) then
  return {2, gen}
end
redis.call("HSET", key, "gen", gen + 1, "last_access", now)
return {3, gen + 1}
`

var rotateGenerationLua = redis.NewScript(rotateGenerationScript)

// terminateScript soft-deletes a session: the record survives with
// state=terminated for the retention window so audit consumers can still
// resolve it, but it leaves the user index and tenant counter immediately.
const terminateScript = `
local key = KEYS[1]
local user_key = KEYS[2]
local count_key = KEYS[3]
redis.call("SREM", user_key, ARGV[1])
if redis.call("EXISTS", key) == 0 then
  return 0
end
local state = redis.call("HGET", key, "state")
if state == "terminated" or state == "expired" then
  return 0
end
redis.call("HSET", key, "state", "terminated", "term_reason", ARGV[2], "terminated_at", ARGV[3])
redis.call("PEXPIRE", key, ARGV[4])
local count = tonumber(redis.call("GET", count_key) or "0")
if count > 1 then
  redis.call("DECR", count_key)
elseif count == 1 then
  redis.call("DEL", count_key)
end
return 1
`

var terminateLua = redis.NewScript(terminateScript)

// setStateScript flips a session between Active and Quarantined, but only
// from the expected prior state so racing transitions cannot resurrect a
// terminated session.
const setStateScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
local state = redis.call("HGET", key, "state")
if state ~= ARGV[1] then
  return 2
end
redis.call("HSET", key, "state", ARGV[2], "last_access", ARGV[3])
return 1
`

var setStateLua = redis.NewScript(setStateScript)

// expireScript is the expiry counterpart of terminateScript: it flips the
// record to expired, de-indexes it, and maintains the tenant counter in
// one atomic unit so concurrent expiry sweeps cannot double-decrement.
const expireScript = `
local key = KEYS[1]
local user_key = KEYS[2]
local count_key = KEYS[3]
redis.call("SREM", user_key, ARGV[1])
if redis.call("EXISTS", key) == 0 then
  return 0
end
local state = redis.call("HGET", key, "state")
if state == "terminated" or state == "expired" then
  return 0
end
redis.call("HSET", key, "state", "expired")
redis.call("PEXPIRE", key, ARGV[2])
local count = tonumber(redis.call("GET", count_key) or "0")
if count > 1 then
  redis.call("DECR", count_key)
elseif count == 1 then
  redis.call("DEL", count_key)
end
return 1
`

var expireLua = redis.NewScript(expireScript)

// Store is the Redis-backed authoritative session record. It owns session
// persistence, the per-user session index, tenant session counters, the
// token revocation lists, and per-session activity history.
type Store struct {
	redis               redis.UniversalClient
	prefix              string
	terminatedRetention time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the key namespace; terminatedRetention controls how long
// soft-deleted sessions stay readable for audit resolution.
func NewStore(redisClient redis.UniversalClient, prefix string, terminatedRetention time.Duration) *Store {
	if terminatedRetention <= 0 {
		terminatedRetention = 24 * time.Hour
	}
	return &Store{
		redis:               redisClient,
		prefix:              prefix,
		terminatedRetention: terminatedRetention,
	}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + "u:" + normalizeTenantID(tenantID) + ":" + userID
}

func (s *Store) tenantCountKey(tenantID string) string {
	return s.prefix + "t:" + normalizeTenantID(tenantID) + ":count"
}

func (s *Store) activityKey(sessionID string) string {
	return s.prefix + "a:" + sessionID
}

func (s *Store) revokedTokenKey(jti string) string {
	return s.prefix + "rv:j:" + jti
}

func (s *Store) chainFloorKey(sessionID string) string {
	return s.prefix + "rv:c:" + sessionID
}

func (s *Store) hourKey(tenantID, userID string) string {
	return s.prefix + "h:" + normalizeTenantID(tenantID) + ":" + userID
}

func (s *Store) attemptKey(idempotencyKey string) string {
	return s.prefix + "la:" + idempotencyKey
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Create persists a new session record and indexes it for its user.
//
//	Performance: 3 Redis commands in one transaction (HSET + SADD + INCR).
func (s *Store) Create(ctx context.Context, sess *Session) error {
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return ErrSessionExpired
	}

	sessionKey := s.key(sess.TenantID, sess.SessionID)
	userKey := s.userKey(sess.TenantID, sess.UserID)
	countKey := s.tenantCountKey(sess.TenantID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey, encodeFields(sess))
		pipe.Expire(ctx, sessionKey, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Incr(ctx, countKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a session by tenant and session ID. Sessions past their
// stored expiry are reported as [ErrSessionExpired] and soft-deleted; the
// caller never observes a stale Active record.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	raw, err := s.redis.HGetAll(ctx, s.key(tenantID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := decodeFields(sessionID, raw)
	if err != nil {
		return nil, err
	}

	if sess.State == StateActive || sess.State == StateQuarantined || sess.State == StatePending {
		if time.Now().Unix() >= sess.ExpiresAt {
			if err := s.markExpired(ctx, sess); err != nil {
				return nil, err
			}
			sess.State = StateExpired
		}
	}
	return sess, nil
}

// Touch updates the session's last-accessed timestamp.
func (s *Store) Touch(ctx context.Context, tenantID, sessionID string, at time.Time) error {
	err := s.redis.HSet(ctx, s.key(tenantID, sessionID), fieldLastAccessedAt, at.Unix()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SetLastLocation records the most recent resolved activity location for
// travel-speed scoring.
func (s *Store) SetLastLocation(ctx context.Context, tenantID, sessionID string, lat, lon float64, country string, at time.Time) error {
	fields := map[string]any{
		fieldLastLat:    lat,
		fieldLastLon:    lon,
		fieldLastSeenAt: at.Unix(),
	}
	if country != "" {
		fields[fieldLastCountry] = country
	}
	if err := s.redis.HSet(ctx, s.key(tenantID, sessionID), fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RotateGeneration performs the atomic generation compare-and-swap. On
// success it returns the session with the incremented generation. A
// mismatched generation returns [ErrGenerationConflict]: the caller holds a
// stale (possibly replayed) refresh token.
//
//	Performance: 1 Lua EVALSHA + 1 HGETALL on success.
//	Security: CAS guarantees a single winner under concurrent rotation.
func (s *Store) RotateGeneration(ctx context.Context, tenantID, sessionID string, providedGen int64) (*Session, error) {
	key := s.key(tenantID, sessionID)
	result, err := rotateGenerationLua.Run(ctx, s.redis, []string{key}, providedGen, time.Now().Unix()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotation script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotation script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusMismatch:
		return nil, ErrGenerationConflict
	case rotateStatusNotActive:
		return nil, ErrSessionNotActive
	case rotateStatusRotated:
		return s.Get(ctx, tenantID, sessionID)
	case rotateStatusCorrupt:
		return nil, ErrCorruptRecord
	default:
		return nil, fmt.Errorf("%w: unknown rotation script status", ErrRedisUnavailable)
	}
}

// Terminate soft-deletes a session. Idempotent: terminating an already
// terminated or missing session reports false without error.
func (s *Store) Terminate(ctx context.Context, tenantID, userID, sessionID, reason string) (bool, error) {
	res, err := terminateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, sessionID), s.userKey(tenantID, userID), s.tenantCountKey(tenantID)},
		sessionID,
		reason,
		time.Now().Unix(),
		s.terminatedRetention.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// TerminateAllForUser terminates every indexed session for a user in a
// tenant, optionally sparing one device. Returns the terminated session IDs.
//
// ATOMICITY NOTE: the index read and the per-session terminations are not
// one atomic unit. A session created between the read and the terminations
// is not captured; it will be caught by expiry or a repeated call. This is
// the same trade the user-wide deletion path has always made.
func (s *Store) TerminateAllForUser(ctx context.Context, tenantID, userID, excludeDeviceID, reason string) ([]string, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	terminated := make([]string, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		if excludeDeviceID != "" {
			deviceID, err := s.redis.HGet(ctx, s.key(tenantID, sessionID), fieldDeviceID).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return terminated, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if deviceID == excludeDeviceID {
				continue
			}
		}
		ok, err := s.Terminate(ctx, tenantID, userID, sessionID, reason)
		if err != nil {
			return terminated, err
		}
		if ok {
			terminated = append(terminated, sessionID)
		}
	}
	return terminated, nil
}

// Quarantine holds an Active session pending re-authentication.
func (s *Store) Quarantine(ctx context.Context, tenantID, sessionID string) error {
	return s.transition(ctx, tenantID, sessionID, StateActive, StateQuarantined)
}

// Reactivate returns a Quarantined session to Active. Only the explicit
// re-authentication path may call this.
func (s *Store) Reactivate(ctx context.Context, tenantID, sessionID string) error {
	return s.transition(ctx, tenantID, sessionID, StateQuarantined, StateActive)
}

// Activate promotes a Pending session once device, tenant, and policy
// checks have passed and tokens are issued.
func (s *Store) Activate(ctx context.Context, tenantID, sessionID string) error {
	return s.transition(ctx, tenantID, sessionID, StatePending, StateActive)
}

func (s *Store) transition(ctx context.Context, tenantID, sessionID string, from, to State) error {
	res, err := setStateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, sessionID)},
		from.String(),
		to.String(),
		time.Now().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch res {
	case 0:
		return ErrSessionNotFound
	case 2:
		return ErrSessionNotActive
	default:
		return nil
	}
}

// ActiveSessionIDs returns the indexed session IDs for a user in a tenant.
func (s *Store) ActiveSessionIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns the number of indexed sessions for a user.
func (s *Store) ActiveSessionCount(ctx context.Context, tenantID, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// TenantSessionCount returns the tracked tenant-wide session counter.
func (s *Store) TenantSessionCount(ctx context.Context, tenantID string) (int, error) {
	count, err := s.redis.Get(ctx, s.tenantCountKey(tenantID)).Int64()
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

// GetMany fetches several sessions, skipping missing records. Expired
// records are skipped rather than surfaced.
func (s *Store) GetMany(ctx context.Context, tenantID string, sessionIDs []string) ([]*Session, error) {
	sessions := make([]*Session, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		sess, err := s.Get(ctx, tenantID, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		if sess.State == StateExpired {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) markExpired(ctx context.Context, sess *Session) error {
	err := expireLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sess.TenantID, sess.SessionID), s.userKey(sess.TenantID, sess.UserID), s.tenantCountKey(sess.TenantID)},
		sess.SessionID,
		s.terminatedRetention.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
