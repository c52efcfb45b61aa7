package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrDeviceNotFound is returned by trust operations on unseen devices.
var ErrDeviceNotFound = errors.New("device not found")

// ErrTrustDowngrade is returned when a grant would lower an existing trust
// level. Lowering goes through [Registry.RevokeTrust] only.
var ErrTrustDowngrade = errors.New("trust grant would downgrade")

// TrustLevel is the explicitly granted confidence in a device fingerprint.
// It never escalates from usage frequency alone.
type TrustLevel uint8

const (
	TrustUntrusted TrustLevel = iota
	TrustBasic
	TrustTrusted
	TrustHighlyTrusted
)

func (t TrustLevel) String() string {
	switch t {
	case TrustUntrusted:
		return "untrusted"
	case TrustBasic:
		return "basic"
	case TrustTrusted:
		return "trusted"
	case TrustHighlyTrusted:
		return "highly_trusted"
	default:
		return "unknown"
	}
}

// Risk factor names reported by Evaluate. The attestation signals behind
// them (jailbreak, emulator) are produced by an external device-attestation
// collaborator and passed in by the caller.
const (
	RiskFactorUnknownDevice = "unknown_device"
	RiskFactorJailbroken    = "jailbroken"
	RiskFactorEmulator      = "emulator"
	RiskFactorUntrusted     = "untrusted_device"
)

// Info is the caller-supplied description of the connecting device.
type Info struct {
	Fingerprint  string
	Platform     string
	UserAgent    string
	Capabilities []string

	// Attestation signals from the external collaborator.
	Jailbroken bool
	Emulator   bool
}

// Evaluation is the result of looking up or creating a device record.
type Evaluation struct {
	DeviceID    string
	TrustLevel  TrustLevel
	Known       bool
	RiskFactors []string
	FirstSeenAt int64
	LastSeenAt  int64
}

const (
	fieldPlatform     = "platform"
	fieldCapabilities = "caps"
	fieldTrust        = "trust"
	fieldFirstSeen    = "first_seen"
	fieldLastSeen     = "last_seen"
)

// Registry records device fingerprints per user and their granted trust.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRegistry creates a device [Registry] backed by the given Redis client.
func NewRegistry(redisClient redis.UniversalClient, prefix string) *Registry {
	return &Registry{redis: redisClient, prefix: prefix}
}

// DeviceID derives the stable device identifier from a raw fingerprint.
// The raw fingerprint is never used as a key directly.
func DeviceID(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:16])
}

func (r *Registry) key(tenantID, userID, deviceID string) string {
	if tenantID == "" {
		tenantID = "0"
	}
	return r.prefix + ":" + tenantID + ":" + userID + ":" + deviceID
}

// Evaluate looks up or creates the device record and reports trust plus
// caller-supplied risk factors. Creation starts at TrustBasic; attestation
// failures (jailbreak, emulator) surface as risk factors without mutating
// the stored trust level.
func (r *Registry) Evaluate(ctx context.Context, tenantID, userID string, info Info) (*Evaluation, error) {
	if info.Fingerprint == "" {
		return nil, errors.New("empty device fingerprint")
	}
	deviceID := DeviceID(info.Fingerprint)
	key := r.key(tenantID, userID, deviceID)
	now := time.Now().Unix()

	raw, err := r.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	eval := &Evaluation{DeviceID: deviceID, LastSeenAt: now}

	if len(raw) == 0 {
		eval.TrustLevel = TrustBasic
		eval.FirstSeenAt = now
		eval.RiskFactors = append(eval.RiskFactors, RiskFactorUnknownDevice)

		err := r.redis.HSet(ctx, key, map[string]any{
			fieldPlatform:     info.Platform,
			fieldCapabilities: strings.Join(info.Capabilities, ","),
			fieldTrust:        strconv.Itoa(int(TrustBasic)),
			fieldFirstSeen:    now,
			fieldLastSeen:     now,
		}).Err()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	} else {
		eval.Known = true
		eval.TrustLevel = parseTrust(raw[fieldTrust])
		eval.FirstSeenAt = parseUnix(raw[fieldFirstSeen])
		if err := r.redis.HSet(ctx, key, fieldLastSeen, now).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if info.Jailbroken {
		eval.RiskFactors = append(eval.RiskFactors, RiskFactorJailbroken)
	}
	if info.Emulator {
		eval.RiskFactors = append(eval.RiskFactors, RiskFactorEmulator)
	}
	if eval.TrustLevel == TrustUntrusted {
		eval.RiskFactors = append(eval.RiskFactors, RiskFactorUntrusted)
	}

	return eval, nil
}

// GrantTrust raises a device to the given level. Grants never lower an
// existing level and are only ever user- or admin-initiated.
func (r *Registry) GrantTrust(ctx context.Context, tenantID, userID, deviceID string, level TrustLevel) error {
	key := r.key(tenantID, userID, deviceID)

	current, err := r.redis.HGet(ctx, key, fieldTrust).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if parseTrust(current) > level {
		return ErrTrustDowngrade
	}

	if err := r.redis.HSet(ctx, key, fieldTrust, strconv.Itoa(int(level))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeTrust drops a device to untrusted.
func (r *Registry) RevokeTrust(ctx context.Context, tenantID, userID, deviceID string) error {
	key := r.key(tenantID, userID, deviceID)

	exists, err := r.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if exists == 0 {
		return ErrDeviceNotFound
	}

	if err := r.redis.HSet(ctx, key, fieldTrust, strconv.Itoa(int(TrustUntrusted))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Trust returns the stored trust level for a device.
func (r *Registry) Trust(ctx context.Context, tenantID, userID, deviceID string) (TrustLevel, error) {
	raw, err := r.redis.HGet(ctx, r.key(tenantID, userID, deviceID), fieldTrust).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TrustUntrusted, ErrDeviceNotFound
		}
		return TrustUntrusted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return parseTrust(raw), nil
}

func parseTrust(raw string) TrustLevel {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > int(TrustHighlyTrusted) {
		return TrustUntrusted
	}
	return TrustLevel(n)
}

func parseUnix(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
