package sessionguard

import (
	"context"
	"time"

	"github.com/sessionguard/sessionguard/device"
	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
)

// TenantStatus is the lifecycle state of a tenant as reported by the
// integrator's [MembershipProvider].
type TenantStatus uint8

const (
	// TenantActive allows all operations.
	TenantActive TenantStatus = iota
	// TenantSuspended rejects new sessions and validations but keeps
	// existing records readable.
	TenantSuspended
	// TenantDeleted rejects everything.
	TenantDeleted
)

// MembershipProvider is implemented by the caller to answer tenant and
// membership questions from their directory. The engine never stores
// user or tenant records itself.
//
// A nil provider treats every tenant as active and every user as a
// member, which is only acceptable in single-tenant deployments.
type MembershipProvider interface {
	TenantStatus(ctx context.Context, tenantID string) (TenantStatus, error)
	IsMember(ctx context.Context, userID, tenantID string) (bool, error)
}

// ClaimSet is the verified identity extracted from an access token.
// It is returned by [Engine.ValidateAccess] after all checks pass.
type ClaimSet struct {
	UserID     string
	TenantID   string
	SessionID  string
	DeviceID   string
	Generation int64
	Scopes     []string
	TokenID    string
	ExpiresAt  time.Time
	Extra      map[string]string
}

// TokenPair is an access/refresh credential pair bound to one session
// generation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// DeviceInfo is the raw device report presented at session creation.
type DeviceInfo = device.Info

// DeviceEvaluation is the registry's verdict on a presented device.
type DeviceEvaluation = device.Evaluation

// TrustLevel is a device trust tier in the registry.
type TrustLevel = device.TrustLevel

// RiskAssessment is the detector's scored verdict for one event.
type RiskAssessment = risk.Assessment

// RiskFactor is a single named contribution inside a [RiskAssessment].
type RiskFactor = risk.Factor

// GeoProvider resolves an IP address to an approximate location. A nil
// provider disables all geography-based risk factors.
type GeoProvider = risk.GeoLookup

// Policy is a per-tenant security policy document.
type Policy = policy.Policy

// PolicyProvider serves policy documents by tenant.
type PolicyProvider = policy.Provider

// Action is a policy enforcement decision.
type Action = policy.Action

// SessionState is the lifecycle state of a session record.
type SessionState = session.State

// CreateSessionRequest is the input for [Engine.CreateSession]. The
// caller has already authenticated the user by whatever means it uses;
// this engine only manages the resulting session and credentials.
type CreateSessionRequest struct {
	UserID   string
	TenantID string
	Device   DeviceInfo
	Scopes   []string
	// SecurityLevel records the strength of the authentication that
	// produced this session (password, MFA, SSO). Policies may require a
	// minimum level for step-up.
	SecurityLevel uint8
	// IdempotencyKey deduplicates retried creation attempts. Optional;
	// prefer setting it via [WithIdempotencyKey] on the context.
	IdempotencyKey string
}

// CreateSessionResult is returned by [Engine.CreateSession].
type CreateSessionResult struct {
	SessionID string
	Tokens    TokenPair
	Device    DeviceEvaluation
	Risk      RiskAssessment
	// Action is the policy outcome. ActionAllow and ActionWarn both
	// produce usable tokens; ActionWarn signals elevated but tolerable
	// risk the caller may want to surface.
	Action Action
	// Replayed reports that an idempotency key matched a previous
	// creation and the prior result was returned unchanged.
	Replayed bool
}

// ValidationResult is returned by [Engine.ValidateAccess].
type ValidationResult struct {
	Claims ClaimSet
	// Action is ActionAllow for a clean pass or ActionWarn when strict
	// validation found elevated risk below enforcement thresholds.
	Action Action
	// Session is populated only under ModeStrict.
	Session *SessionInfo
}

// RefreshResult is returned by [Engine.Refresh] after a successful
// rotation.
type RefreshResult struct {
	SessionID  string
	Generation int64
	Tokens     TokenPair
}

// SessionInfo is a read-only projection of a session record, safe to
// return to end users listing their own sessions.
type SessionInfo struct {
	SessionID      string
	TenantID       string
	UserID         string
	DeviceID       string
	State          SessionState
	IP             string
	Country        string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	Current        bool
}

// ActivityReport is returned by [Engine.RecordActivity] with the risk
// verdict for one scored event.
type ActivityReport struct {
	Risk   RiskAssessment
	Action Action
	Reason string
	// Enforced reports that the action was applied to the session
	// (quarantine or termination), not just advised.
	Enforced bool
}

// TerminateRequest identifies a session to terminate and why.
type TerminateRequest struct {
	TenantID  string
	SessionID string
	Reason    string
}

// HealthStatus is returned by [Engine.Health].
type HealthStatus struct {
	Ready        bool
	RedisHealthy bool
	AuditDropped uint64
}

func sessionInfoFrom(s *session.Session, currentSessionID string) SessionInfo {
	return SessionInfo{
		SessionID:      s.SessionID,
		TenantID:       s.TenantID,
		UserID:         s.UserID,
		DeviceID:       s.DeviceID,
		State:          s.State,
		IP:             s.IP,
		Country:        s.LastCountry,
		CreatedAt:      time.Unix(s.CreatedAt, 0).UTC(),
		LastAccessedAt: time.Unix(s.LastAccessedAt, 0).UTC(),
		ExpiresAt:      time.Unix(s.ExpiresAt, 0).UTC(),
		Current:        s.SessionID == currentSessionID,
	}
}
