package flows

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureParse
	RefreshFailureTenantMismatch
	RefreshFailureTenantInactive
	RefreshFailureMembershipDenied
	RefreshFailureRevoked
	RefreshFailureReuse
	RefreshFailureConflict
	RefreshFailureSessionNotFound
	RefreshFailureSessionExpired
	RefreshFailureSessionNotActive
	RefreshFailureBackend
	RefreshFailureIssueTokens
)

// RefreshResult carries the rotated pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error

	TenantID  string
	SessionID string
	Session   *session.Session
	Pair      *token.Pair
}

// RefreshSessionStore is the subset of the session store the refresh
// flow touches.
type RefreshSessionStore interface {
	RotateGeneration(ctx context.Context, tenantID, sessionID string, providedGen int64) (*session.Session, error)
	ChainFloor(ctx context.Context, sessionID string) (int64, bool, error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	RevokeChainFrom(ctx context.Context, sessionID string, gen int64, ttl time.Duration) error
	Terminate(ctx context.Context, tenantID, userID, sessionID, reason string) (bool, error)
	AppendActivity(ctx context.Context, sessionID string, payload []byte, maxEvents int, retention time.Duration) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Store        RefreshSessionStore
	ParseRefresh func(string) (*token.Claims, error)
	IssuePair    func(spec token.PairSpec) (*token.Pair, error)

	TenantFromContext func(context.Context) (string, bool)
	EnforceIsolation  bool

	// TenantActive and IsMember consult the integrator's directory. Nil
	// funcs skip the check. A deactivated membership terminates the
	// session so it cannot refresh again.
	TenantActive func(ctx context.Context, tenantID string) (bool, error)
	IsMember     func(ctx context.Context, userID, tenantID string) (bool, error)

	Now func() time.Time

	// Warn reports non-fatal bookkeeping failures, printf-style. Nil
	// disables it.
	Warn func(format string, args ...any)

	// RevocationTTL bounds how long reuse tombstones and chain floors
	// outlive the incident.
	RevocationTTL     time.Duration
	ActivityLogSize   int
	ActivityRetention time.Duration
}

// RunRefresh rotates a session generation. Exactly one concurrent caller
// wins the rotation; losers see a conflict, and tokens at or below a
// revoked chain floor terminate the session outright.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureParse, Err: err}
	}
	sessionID := claims.SessionID

	if deps.EnforceIsolation {
		if ctxTenant, ok := deps.TenantFromContext(ctx); ok && ctxTenant != claims.TenantID {
			return RefreshResult{
				Failure:   RefreshFailureTenantMismatch,
				TenantID:  claims.TenantID,
				SessionID: sessionID,
			}
		}
	}

	if deps.TenantActive != nil {
		active, err := deps.TenantActive(ctx, claims.TenantID)
		if err != nil {
			return RefreshResult{Failure: RefreshFailureBackend, Err: err, SessionID: sessionID}
		}
		if !active {
			_, _ = deps.Store.Terminate(ctx, claims.TenantID, claims.Subject, sessionID, "tenant_inactive")
			_ = deps.Store.RevokeChainFrom(ctx, sessionID, chainFloorAll, deps.RevocationTTL)
			return RefreshResult{
				Failure:   RefreshFailureTenantInactive,
				TenantID:  claims.TenantID,
				SessionID: sessionID,
			}
		}
	}
	if deps.IsMember != nil {
		member, err := deps.IsMember(ctx, claims.Subject, claims.TenantID)
		if err != nil {
			return RefreshResult{Failure: RefreshFailureBackend, Err: err, SessionID: sessionID}
		}
		if !member {
			_, _ = deps.Store.Terminate(ctx, claims.TenantID, claims.Subject, sessionID, "membership_revoked")
			_ = deps.Store.RevokeChainFrom(ctx, sessionID, chainFloorAll, deps.RevocationTTL)
			return RefreshResult{
				Failure:   RefreshFailureMembershipDenied,
				TenantID:  claims.TenantID,
				SessionID: sessionID,
			}
		}
	}

	revoked, err := deps.Store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureBackend, Err: err, SessionID: sessionID}
	}
	if revoked {
		return RefreshResult{
			Failure:   RefreshFailureRevoked,
			TenantID:  claims.TenantID,
			SessionID: sessionID,
		}
	}

	floor, hasFloor, err := deps.Store.ChainFloor(ctx, sessionID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureBackend, Err: err, SessionID: sessionID}
	}
	if hasFloor && claims.Generation <= floor {
		// A token from a revoked chain came back: assume theft and burn
		// the whole session.
		_, _ = deps.Store.Terminate(ctx, claims.TenantID, claims.Subject, sessionID, "refresh_reuse")
		return RefreshResult{
			Failure:   RefreshFailureReuse,
			TenantID:  claims.TenantID,
			SessionID: sessionID,
		}
	}

	sess, err := deps.Store.RotateGeneration(ctx, claims.TenantID, sessionID, claims.Generation)
	if err != nil {
		return RefreshResult{
			Failure:   classifyRotateError(err),
			Err:       err,
			TenantID:  claims.TenantID,
			SessionID: sessionID,
		}
	}

	// The consumed token is tombstoned until its own expiry. The
	// generation CAS already blocks replays; the tombstone makes them
	// distinguishable from rotation races.
	tombstoneTTL := deps.RevocationTTL
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(deps.Now()); remaining > 0 && remaining < tombstoneTTL {
			tombstoneTTL = remaining
		}
	}
	if err := deps.Store.RevokeToken(ctx, claims.ID, tombstoneTTL); err != nil && deps.Warn != nil {
		deps.Warn("sessionguard: tombstone write for consumed refresh token failed: session=%s err=%v", sessionID, err)
	}

	pair, err := deps.IssuePair(token.PairSpec{
		UserID:           sess.UserID,
		TenantID:         sess.TenantID,
		SessionID:        sess.SessionID,
		DeviceID:         sess.DeviceID,
		Generation:       sess.Generation,
		Scopes:           claims.Scopes,
		SessionExpiresAt: time.Unix(sess.ExpiresAt, 0),
	})
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssueTokens,
			Err:       err,
			TenantID:  sess.TenantID,
			SessionID: sess.SessionID,
			Session:   sess,
		}
	}

	event := risk.Event{
		SessionID: sess.SessionID,
		Timestamp: deps.Now(),
		Kind:      risk.EventRefresh,
		IP:        sess.IP,
	}
	if payload, err := json.Marshal(event); err == nil {
		if err := deps.Store.AppendActivity(ctx, sess.SessionID, payload, deps.ActivityLogSize, deps.ActivityRetention); err != nil && deps.Warn != nil {
			deps.Warn("sessionguard: refresh activity append failed: session=%s err=%v", sess.SessionID, err)
		}
	}

	return RefreshResult{
		TenantID:  sess.TenantID,
		SessionID: sess.SessionID,
		Session:   sess,
		Pair:      pair,
	}
}

func classifyRotateError(err error) RefreshFailureKind {
	switch {
	case errors.Is(err, session.ErrGenerationConflict):
		return RefreshFailureConflict
	case errors.Is(err, session.ErrSessionNotFound):
		return RefreshFailureSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return RefreshFailureSessionExpired
	case errors.Is(err, session.ErrSessionNotActive):
		return RefreshFailureSessionNotActive
	default:
		return RefreshFailureBackend
	}
}
