package policy

import (
	"context"
	"time"
)

// Thresholds are the risk-score band edges. Scores below Flag allow
// silently; [Flag, StepUp) allows but flags for review; [StepUp,
// Quarantine] demands step-up re-authentication; strictly above
// Quarantine the session is held.
type Thresholds struct {
	Flag       float64
	StepUp     float64
	Quarantine float64
}

// Policy is one tenant's security policy document. Zero-valued fields fall
// back to the platform defaults through [Normalize]; the engine reads
// policies but never mutates them.
type Policy struct {
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	IdleTimeout           time.Duration

	AllowedCountries []string
	BlockedCountries []string

	RequireDeviceTrust bool

	MaxFailedValidations int
	LockoutDuration      time.Duration

	// EvictOldestOnLimit terminates the oldest session instead of
	// rejecting a new login at the concurrency limit.
	EvictOldestOnLimit bool

	RiskThresholds Thresholds
}

// Default returns the platform default policy applied when a tenant has
// none configured.
func Default() Policy {
	return Policy{
		MaxConcurrentSessions: 10,
		SessionTimeout:        30 * 24 * time.Hour,
		IdleTimeout:           time.Hour,
		MaxFailedValidations:  5,
		LockoutDuration:       15 * time.Minute,
		EvictOldestOnLimit:    true,
		RiskThresholds: Thresholds{
			Flag:       0.3,
			StepUp:     0.6,
			Quarantine: 0.85,
		},
	}
}

// Normalize fills absent fields of a tenant policy from the defaults.
func Normalize(p Policy, defaults Policy) Policy {
	if p.MaxConcurrentSessions <= 0 {
		p.MaxConcurrentSessions = defaults.MaxConcurrentSessions
	}
	if p.SessionTimeout <= 0 {
		p.SessionTimeout = defaults.SessionTimeout
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = defaults.IdleTimeout
	}
	if p.MaxFailedValidations <= 0 {
		p.MaxFailedValidations = defaults.MaxFailedValidations
	}
	if p.LockoutDuration <= 0 {
		p.LockoutDuration = defaults.LockoutDuration
	}
	if p.RiskThresholds.Flag <= 0 {
		p.RiskThresholds.Flag = defaults.RiskThresholds.Flag
	}
	if p.RiskThresholds.StepUp <= 0 {
		p.RiskThresholds.StepUp = defaults.RiskThresholds.StepUp
	}
	if p.RiskThresholds.Quarantine <= 0 {
		p.RiskThresholds.Quarantine = defaults.RiskThresholds.Quarantine
	}
	return p
}

// Provider supplies per-tenant policies. Returning (nil, nil) means the
// tenant has no policy of its own and uses the platform defaults.
type Provider interface {
	PolicyFor(ctx context.Context, tenantID string) (*Policy, error)
}

// StaticProvider serves a fixed tenant-to-policy map. Useful for tests and
// single-tenant deployments.
type StaticProvider struct {
	Policies map[string]Policy
}

func (p *StaticProvider) PolicyFor(_ context.Context, tenantID string) (*Policy, error) {
	if p == nil || p.Policies == nil {
		return nil, nil
	}
	pol, ok := p.Policies[tenantID]
	if !ok {
		return nil, nil
	}
	return &pol, nil
}
