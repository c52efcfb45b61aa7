package flows

import (
	"context"
	"time"

	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// SwitchResult carries the replacement session created in the target
// tenant and the source session retired by the switch.
type SwitchResult struct {
	Failure CreateFailureKind
	Err     error
	Reason  string

	Session *session.Session
	Pair    *token.Pair

	// TerminatedSourceID is the source session ended by the switch, empty
	// when the switch failed before that point.
	TerminatedSourceID string

	// EvictedSessionID names the oldest target-tenant session terminated
	// to make room under the concurrency limit, when eviction ran.
	EvictedSessionID string
}

// SwitchDeps captures tenant switch dependencies. The switch reuses the
// creation gates but inherits the device identity from the source
// session instead of re-evaluating a fingerprint.
type SwitchDeps struct {
	Store        CreateSessionStore
	ParseRefresh func(string) (*token.Claims, error)
	IssuePair    func(spec token.PairSpec) (*token.Pair, error)
	NewSessionID func() string
	Now          func() time.Time

	PolicyFor    func(ctx context.Context, tenantID string) (policy.Policy, error)
	TenantActive func(ctx context.Context, tenantID string) (bool, error)
	IsMember     func(ctx context.Context, userID, tenantID string) (bool, error)

	RevocationTTL time.Duration
}

// RunSwitchTenant creates a replacement session in the target tenant for
// the user behind a valid refresh token, then terminates the source
// session and floors its chain. A session's tenant never changes in
// place; the switch always produces a new record and retires the old
// one.
func RunSwitchTenant(ctx context.Context, refreshToken, targetTenantID string, deps SwitchDeps) SwitchResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return SwitchResult{Failure: CreateFailureBackend, Err: err}
	}
	userID := claims.Subject

	src, err := deps.Store.Get(ctx, claims.TenantID, claims.SessionID)
	if err != nil {
		return SwitchResult{Failure: CreateFailureBackend, Err: err}
	}
	if src.State != session.StateActive {
		return SwitchResult{Failure: CreateFailurePolicy, Reason: "source_session_not_active"}
	}

	if deps.TenantActive != nil {
		active, err := deps.TenantActive(ctx, targetTenantID)
		if err != nil {
			return SwitchResult{Failure: CreateFailureBackend, Err: err}
		}
		if !active {
			return SwitchResult{Failure: CreateFailureTenantInactive, Reason: "tenant_inactive"}
		}
	}
	if deps.IsMember != nil {
		member, err := deps.IsMember(ctx, userID, targetTenantID)
		if err != nil {
			return SwitchResult{Failure: CreateFailureBackend, Err: err}
		}
		if !member {
			return SwitchResult{Failure: CreateFailureMembershipDenied, Reason: "membership_denied"}
		}
	}

	pol, err := deps.PolicyFor(ctx, targetTenantID)
	if err != nil {
		return SwitchResult{Failure: CreateFailureBackend, Err: err}
	}

	activeIDs, err := deps.Store.ActiveSessionIDs(ctx, targetTenantID, userID)
	if err != nil {
		return SwitchResult{Failure: CreateFailureBackend, Err: err}
	}
	evictedID := ""
	if pol.MaxConcurrentSessions > 0 && len(activeIDs) >= pol.MaxConcurrentSessions {
		if !pol.EvictOldestOnLimit {
			return SwitchResult{Failure: CreateFailureConcurrentLimit, Reason: policy.ReasonConcurrentLimit}
		}
		evictedID, err = evictOldest(ctx, deps.Store, targetTenantID, userID, activeIDs, deps.RevocationTTL)
		if err != nil {
			return SwitchResult{Failure: CreateFailureBackend, Err: err}
		}
	}

	now := deps.Now()
	sess := &session.Session{
		SessionID:      deps.NewSessionID(),
		UserID:         userID,
		TenantID:       targetTenantID,
		DeviceID:       src.DeviceID,
		State:          session.StateActive,
		SecurityLevel:  src.SecurityLevel,
		IP:             src.IP,
		Generation:     1,
		CreatedAt:      now.Unix(),
		LastAccessedAt: now.Unix(),
		ExpiresAt:      now.Add(pol.SessionTimeout).Unix(),
	}
	if err := deps.Store.Create(ctx, sess); err != nil {
		return SwitchResult{Failure: CreateFailureBackend, Err: err}
	}

	pair, err := deps.IssuePair(token.PairSpec{
		UserID:           userID,
		TenantID:         targetTenantID,
		SessionID:        sess.SessionID,
		DeviceID:         sess.DeviceID,
		Generation:       sess.Generation,
		Scopes:           claims.Scopes,
		SessionExpiresAt: time.Unix(sess.ExpiresAt, 0),
	})
	if err != nil {
		_, _ = deps.Store.Terminate(ctx, targetTenantID, userID, sess.SessionID, "issue_failed")
		return SwitchResult{Failure: CreateFailureIssueTokens, Err: err}
	}

	// Retire the source session only after the replacement is usable, so
	// a failed switch leaves the caller with working credentials.
	out := SwitchResult{Session: sess, Pair: pair, EvictedSessionID: evictedID}
	if _, err := deps.Store.Terminate(ctx, claims.TenantID, userID, claims.SessionID, "tenant_switch"); err == nil {
		_ = deps.Store.RevokeChainFrom(ctx, claims.SessionID, chainFloorAll, deps.RevocationTTL)
		out.TerminatedSourceID = claims.SessionID
	}
	return out
}
