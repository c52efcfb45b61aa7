package sessionguard

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sessionguard/sessionguard/device"
	"github.com/sessionguard/sessionguard/internal/flows"
	"github.com/sessionguard/sessionguard/internal/rate"
	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// defaultStepUpSecurityLevel is the authentication strength that satisfies
// a step-up demand at session creation. Level 2 corresponds to a second
// factor on top of the primary credential.
const defaultStepUpSecurityLevel = 2

// hourHistogramRetention bounds the per-user access-hour histogram used
// for off-hours scoring.
const hourHistogramRetention = 30 * 24 * time.Hour

// Builder assembles an [Engine]. Configure it with the With* methods and
// call [Builder.Build] exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	membership MembershipProvider
	policies   PolicyProvider
	geo        GeoProvider
	auditSink  AuditSink

	built bool
}

// New returns a [Builder] seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing session, device, and revocation
// state. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMembershipProvider sets the directory consulted for tenant status
// and membership. Optional; without it every tenant is treated as active
// and every user as a member.
func (b *Builder) WithMembershipProvider(mp MembershipProvider) *Builder {
	b.membership = mp
	return b
}

// WithPolicyProvider sets the per-tenant policy source. Optional; without
// it every tenant gets the configured defaults.
func (b *Builder) WithPolicyProvider(pp PolicyProvider) *Builder {
	b.policies = pp
	return b
}

// WithGeoProvider sets the IP geolocation source. Optional; without it
// geography-based risk factors are disabled.
func (b *Builder) WithGeoProvider(gp GeoProvider) *Builder {
	b.geo = gp
	return b
}

// WithAuditSink sets the destination for audit events and enables the
// async dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the in-process metrics counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles validation latency histograms. Implies
// nothing unless metrics are enabled too.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs every subsystem, and
// wires the engine. The builder cannot be reused afterwards.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TerminatedRetention)
	devices := device.NewRegistry(b.redis, cfg.Session.RedisPrefix)
	lockouts := rate.New(b.redis, cfg.Session.RedisPrefix)

	weights := cfg.Risk.Weights
	if cfg.Risk.UseDefaultWeights {
		weights = risk.DefaultWeights()
	}
	detector := risk.NewDetector(weights, risk.Options{
		MaxTravelSpeedKmh:  cfg.Risk.MaxTravelSpeedKmh,
		FailureBurstCap:    cfg.Risk.FailureBurstCap,
		OffHoursMinSamples: cfg.Risk.OffHoursMinSamples,
	})

	engine := &Engine{
		config:   cfg,
		redis:    b.redis,
		sessions: sessions,
		devices:  devices,
		lockouts: lockouts,
		tokens:   tokens,
		detector: detector,
		geo:      b.geo,
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.membership = b.membership

	defaults := policy.Default()
	if cfg.Policy.Defaults != nil {
		defaults = policy.Normalize(*cfg.Policy.Defaults, defaults)
	}
	provider := b.policies
	policyFor := func(ctx context.Context, tenantID string) (policy.Policy, error) {
		if provider == nil {
			return defaults, nil
		}
		doc, err := provider.PolicyFor(ctx, tenantID)
		if err != nil {
			return policy.Policy{}, err
		}
		if doc == nil {
			return defaults, nil
		}
		return policy.Normalize(*doc, defaults), nil
	}
	engine.policyFor = policyFor

	var tenantActive func(ctx context.Context, tenantID string) (bool, error)
	var isMember func(ctx context.Context, userID, tenantID string) (bool, error)
	if b.membership != nil {
		mp := b.membership
		tenantActive = func(ctx context.Context, tenantID string) (bool, error) {
			status, err := mp.TenantStatus(ctx, tenantID)
			if err != nil {
				return false, err
			}
			return status == TenantActive, nil
		}
		if cfg.Tenant.RequireActiveMembership {
			isMember = mp.IsMember
		}
	}

	deviceTrusted := func(ctx context.Context, tenantID, userID, deviceID string) (bool, error) {
		level, err := devices.Trust(ctx, tenantID, userID, deviceID)
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				return false, nil
			}
			return false, err
		}
		return level >= device.TrustBasic, nil
	}

	// Revocation records must outlive the longest-lived token they gate.
	revocationTTL := cfg.Token.RefreshTTL + cfg.Token.AccessTTL
	activityRetention := cfg.Token.RefreshTTL

	engine.flows = flows.New(flows.Deps{
		Create: flows.CreateDeps{
			Store:               sessions,
			Devices:             devices,
			Geo:                 b.geo,
			Detector:            detector,
			PolicyFor:           policyFor,
			TenantActive:        tenantActive,
			IsMember:            isMember,
			IssuePair:           tokens.IssuePair,
			NewSessionID:        uuid.NewString,
			Now:                 time.Now,
			StepUpSecurityLevel: defaultStepUpSecurityLevel,
			ActivityLogSize:     cfg.Session.ActivityLogSize,
			ActivityRetention:   activityRetention,
			HourRetention:       hourHistogramRetention,
			IdempotencyWindow:   cfg.Session.LoginIdempotencyTTL,
			RevocationTTL:       revocationTTL,
		},
		Refresh: flows.RefreshDeps{
			Store:             sessions,
			ParseRefresh:      tokens.ParseRefresh,
			IssuePair:         tokens.IssuePair,
			TenantFromContext: tenantIDFromContext,
			EnforceIsolation:  cfg.Tenant.EnforceIsolation,
			TenantActive:      tenantActive,
			IsMember:          isMember,
			Now:               time.Now,
			Warn:              log.Printf,
			RevocationTTL:     revocationTTL,
			ActivityLogSize:   cfg.Session.ActivityLogSize,
			ActivityRetention: activityRetention,
		},
		Validate: flows.ValidateDeps{
			Store:       sessions,
			Lockout:     lockouts,
			ParseAccess: tokens.ParseAccess,
			PolicyFor:   policyFor,
			ResolveMode: func(routeMode int) (int, bool) {
				return flows.ResolveRouteMode(routeMode, int(cfg.ValidationMode), flows.ModeResolverConfig{
					ModeInherit: int(ModeInherit),
					ModeJWTOnly: int(ModeJWTOnly),
					ModeHybrid:  int(ModeHybrid),
					ModeStrict:  int(ModeStrict),
				})
			},
			ModeJWTOnly:       int(ModeJWTOnly),
			ModeHybrid:        int(ModeHybrid),
			TenantFromContext: tenantIDFromContext,
			EnforceIsolation:  cfg.Tenant.EnforceIsolation,
			Now:               time.Now,
			MaxClockSkew:      cfg.Security.MaxClockSkew,
			LockedOut:         rate.ErrLockedOut,
		},
		Terminate: flows.TerminateDeps{
			Store:         sessions,
			ParseRefresh:  tokens.ParseRefresh,
			Now:           time.Now,
			RevocationTTL: revocationTTL,
		},
		Activity: flows.ActivityDeps{
			Store:             sessions,
			Lockout:           lockouts,
			Geo:               b.geo,
			Detector:          detector,
			PolicyFor:         policyFor,
			IssuePair:         tokens.IssuePair,
			DeviceTrusted:     deviceTrusted,
			Now:               time.Now,
			RevocationTTL:     revocationTTL,
			ActivityLogSize:   cfg.Session.ActivityLogSize,
			ActivityRetention: activityRetention,
			HourRetention:     hourHistogramRetention,
		},
		Switch: flows.SwitchDeps{
			Store:         sessions,
			ParseRefresh:  tokens.ParseRefresh,
			IssuePair:     tokens.IssuePair,
			NewSessionID:  uuid.NewString,
			Now:           time.Now,
			PolicyFor:     policyFor,
			TenantActive:  tenantActive,
			IsMember:      isMember,
			RevocationTTL: revocationTTL,
		},
		Introspection: flows.IntrospectionDeps{
			Store:             sessions,
			TenantFromContext: tenantIDFromContext,
			EnforceIsolation:  cfg.Tenant.EnforceIsolation,
			TenantMismatchErr: ErrTenantMismatch,
			NotFoundErr:       ErrSessionNotFound,
		},
	})

	b.built = true

	return engine, nil
}
