package sessionguard

import (
	"errors"
	"time"

	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
)

// Config is the full engine configuration tree. Construct it with
// [NewBuilder], which starts from [defaultConfig] and validates the
// result before the engine is built.
//
// Config instances are intended to be configured during initialization
// and then treated as immutable.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Device   DeviceConfig
	Risk     RiskConfig
	Policy   PolicyConfig
	Tenant   TenantConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig

	ValidationMode ValidationMode
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls signing and lifetimes for issued token pairs.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys holds additional public keys by key ID, consulted during
	// verification to allow signing key rollover without invalidating
	// outstanding tokens.
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis layout and retention of session records.
type SessionConfig struct {
	RedisPrefix string
	// TerminatedRetention is how long a terminated session record stays
	// readable for audit before Redis expires it.
	TerminatedRetention time.Duration
	// ActivityLogSize caps the per-session activity ring kept in Redis.
	ActivityLogSize int
	// LoginIdempotencyTTL is the claim window for login idempotency keys.
	LoginIdempotencyTTL time.Duration
}

// DeviceConfig controls the device trust registry.
type DeviceConfig struct {
	// RequireAttestation rejects session creation when the device report
	// carries no attestation signals at all.
	RequireAttestation bool
	// UnknownDeviceRetention bounds how long an untouched device record
	// survives in Redis. Zero keeps records indefinitely.
	UnknownDeviceRetention time.Duration
}

// RiskConfig tunes the anomaly detector. Zero values fall back to the
// detector defaults.
type RiskConfig struct {
	Weights            risk.Weights
	MaxTravelSpeedKmh  float64
	FailureBurstCap    int
	OffHoursMinSamples int
	UseDefaultWeights  bool
}

// PolicyConfig carries the fallback policy used for tenants the provider
// has no document for.
type PolicyConfig struct {
	Defaults *policy.Policy
}

// TenantConfig controls cross-tenant isolation behavior.
type TenantConfig struct {
	// EnforceIsolation rejects any credential presented against a tenant
	// other than the one it was issued for. Disabling it is only valid
	// outside production mode.
	EnforceIsolation bool
	// RequireActiveMembership consults the membership provider on session
	// creation and tenant switch.
	RequireActiveMembership bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds engine-wide hardening switches that are not
// per-tenant policy.
type SecurityConfig struct {
	ProductionMode bool
	// MaxClockSkew bounds token time-claim tolerance on top of the token
	// leeway.
	MaxClockSkew time.Duration
	// EnforceRefreshRotation refuses configurations that would hand out
	// reusable refresh tokens.
	EnforceRefreshRotation bool
	// EnforceReuseDetection refuses configurations that would skip
	// superseded-generation tracking.
	EnforceReuseDetection bool
}

// ValidationMode selects how much backend state an access validation
// consults.
type ValidationMode int

const (
	// ModeInherit defers to the engine-wide mode on per-route overrides.
	ModeInherit ValidationMode = -1

	// ModeJWTOnly verifies signature and time claims without touching Redis.
	ModeJWTOnly ValidationMode = iota
	// ModeHybrid verifies the token and checks revocation tombstones.
	ModeHybrid
	// ModeStrict additionally loads the session record and evaluates
	// tenant policy on every call.
	ModeStrict
)

// RouteMode is the per-route override mode for [Engine.ValidateAccess].
// It reuses the ValidationMode constants.
type RouteMode = ValidationMode

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration the builder starts from.
// Callers still have to supply signing key material before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "sessionguard",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:         "sg",
			TerminatedRetention: 24 * time.Hour,
			ActivityLogSize:     256,
			LoginIdempotencyTTL: 10 * time.Minute,
		},
		Device: DeviceConfig{
			RequireAttestation:     false,
			UnknownDeviceRetention: 0,
		},
		Risk: RiskConfig{
			UseDefaultWeights:  true,
			MaxTravelSpeedKmh:  900,
			FailureBurstCap:    5,
			OffHoursMinSamples: 20,
		},
		Policy: PolicyConfig{},
		Tenant: TenantConfig{
			EnforceIsolation:        true,
			RequireActiveMembership: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:         false,
			MaxClockSkew:           30 * time.Second,
			EnforceRefreshRotation: true,
			EnforceReuseDetection:  true,
		},
		ValidationMode: ModeHybrid,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if len(cfg.Token.VerifyKeys) > 0 {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.Policy.Defaults != nil {
		p := *cfg.Policy.Defaults
		out.Policy.Defaults = &p
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internal consistency. It is called
// by the builder before the engine is constructed; a failed validation is
// a programming error and should fail startup.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}

	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported Token signing method")
	}

	if c.Token.SigningMethod == "ed25519" && len(c.Token.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Token.SigningMethod == "ed25519" && len(c.Token.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	// Session
	if c.Session.TerminatedRetention <= 0 {
		return errors.New("Session TerminatedRetention must be > 0")
	}
	if c.Session.ActivityLogSize <= 0 {
		return errors.New("Session ActivityLogSize must be > 0")
	}
	if c.Session.LoginIdempotencyTTL <= 0 {
		return errors.New("Session LoginIdempotencyTTL must be > 0")
	}

	// Risk
	if c.Risk.MaxTravelSpeedKmh < 0 {
		return errors.New("Risk MaxTravelSpeedKmh must be >= 0")
	}
	if c.Risk.FailureBurstCap < 0 {
		return errors.New("Risk FailureBurstCap must be >= 0")
	}
	if !c.Risk.UseDefaultWeights {
		if err := validateWeights(c.Risk.Weights); err != nil {
			return err
		}
	}

	// Policy defaults
	if c.Policy.Defaults != nil {
		if err := validatePolicyDoc(c.Policy.Defaults); err != nil {
			return err
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	// Security
	if c.Security.MaxClockSkew < 0 {
		return errors.New("MaxClockSkew must be >= 0")
	}
	if !c.Security.EnforceRefreshRotation {
		return errors.New("EnforceRefreshRotation must be true")
	}
	if !c.Security.EnforceReuseDetection {
		return errors.New("EnforceReuseDetection must be true")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeHybrid, ModeStrict:
		// valid
	default:
		return errors.New("invalid ValidationMode")
	}

	if c.Security.ProductionMode {
		if c.Token.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires Token AccessTTL <= 15m")
		}
		if c.Token.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires Token RefreshTTL <= 30d")
		}
		if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if !c.Tenant.EnforceIsolation {
			return errors.New("ProductionMode requires Tenant EnforceIsolation")
		}
		if c.ValidationMode == ModeJWTOnly {
			return errors.New("ProductionMode requires revocation-aware validation mode")
		}
	}

	return nil
}

func validateWeights(w risk.Weights) error {
	for _, v := range []float64{
		w.ImpossibleTravel, w.NewCountry, w.NewDevice,
		w.FailureBurst, w.Anonymizer, w.OffHours,
	} {
		if v < 0 || v > 1 {
			return errors.New("Risk weights must be within [0, 1]")
		}
	}
	return nil
}

func validatePolicyDoc(p *policy.Policy) error {
	if p.MaxConcurrentSessions < 0 {
		return errors.New("Policy MaxConcurrentSessions must be >= 0")
	}
	if p.SessionTimeout < 0 || p.IdleTimeout < 0 {
		return errors.New("Policy timeouts must be >= 0")
	}
	if p.MaxFailedValidations < 0 {
		return errors.New("Policy MaxFailedValidations must be >= 0")
	}
	t := p.RiskThresholds
	if t.Flag < 0 || t.StepUp < t.Flag || t.Quarantine < t.StepUp || t.Quarantine > 1 {
		return errors.New("Policy RiskThresholds must be ordered within [0, 1]")
	}
	return nil
}
