package flows

import (
	"context"
	"time"

	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// chainFloorAll is a floor above any reachable generation, used when a
// termination must revoke every outstanding token for a session.
const chainFloorAll = int64(1) << 62

// TerminateSessionStore is the subset of the session store termination
// touches.
type TerminateSessionStore interface {
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	Terminate(ctx context.Context, tenantID, userID, sessionID, reason string) (bool, error)
	TerminateAllForUser(ctx context.Context, tenantID, userID, excludeDeviceID, reason string) ([]string, error)
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	RevokeChainFrom(ctx context.Context, sessionID string, gen int64, ttl time.Duration) error
}

// TerminateDeps captures termination and revocation flow dependencies.
type TerminateDeps struct {
	Store        TerminateSessionStore
	ParseRefresh func(string) (*token.Claims, error)

	Now func() time.Time

	// RevocationTTL bounds tombstone and chain floor lifetimes. It should
	// exceed the refresh TTL so no outstanding token outlives its floor.
	RevocationTTL time.Duration
}

// TerminateResult reports one session termination.
type TerminateResult struct {
	SessionID  string
	Terminated bool
	Err        error
}

// RunTerminate soft-deletes one session and floors its token chain so
// hybrid-mode validations reject outstanding tokens too.
func RunTerminate(ctx context.Context, tenantID, sessionID, reason string, deps TerminateDeps) TerminateResult {
	sess, err := deps.Store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return TerminateResult{SessionID: sessionID, Err: err}
	}

	terminated, err := deps.Store.Terminate(ctx, tenantID, sess.UserID, sessionID, reason)
	if err != nil {
		return TerminateResult{SessionID: sessionID, Err: err}
	}
	if err := deps.Store.RevokeChainFrom(ctx, sessionID, chainFloorAll, deps.RevocationTTL); err != nil {
		return TerminateResult{SessionID: sessionID, Terminated: terminated, Err: err}
	}

	return TerminateResult{SessionID: sessionID, Terminated: terminated}
}

// RunRevokeByRefreshToken revokes a presented credential pair and its
// chain forward, then terminates the session the pair belonged to. A
// malformed token still reports parse failure, but revocation of a
// syntactically valid token proceeds even when the session is already
// gone.
func RunRevokeByRefreshToken(ctx context.Context, refreshToken, reason string, deps TerminateDeps) TerminateResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return TerminateResult{Err: err}
	}

	ttl := deps.RevocationTTL
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(deps.Now()); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}

	if err := deps.Store.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return TerminateResult{SessionID: claims.SessionID, Err: err}
	}
	// Floor at the presented generation: this pair's access token and
	// every earlier generation die with it.
	if err := deps.Store.RevokeChainFrom(ctx, claims.SessionID, claims.Generation, deps.RevocationTTL); err != nil {
		return TerminateResult{SessionID: claims.SessionID, Err: err}
	}

	terminated, err := deps.Store.Terminate(ctx, claims.TenantID, claims.Subject, claims.SessionID, reason)
	if err != nil {
		return TerminateResult{SessionID: claims.SessionID, Err: err}
	}
	return TerminateResult{SessionID: claims.SessionID, Terminated: terminated}
}

// RunTerminateAll sweeps every active session for a user in a tenant.
// excludeDeviceID, when set, spares sessions bound to that device so a
// "log out everywhere else" keeps the caller signed in.
func RunTerminateAll(ctx context.Context, tenantID, userID, excludeDeviceID, reason string, deps TerminateDeps) ([]string, error) {
	terminated, err := deps.Store.TerminateAllForUser(ctx, tenantID, userID, excludeDeviceID, reason)
	if err != nil {
		return nil, err
	}
	for _, sessionID := range terminated {
		_ = deps.Store.RevokeChainFrom(ctx, sessionID, chainFloorAll, deps.RevocationTTL)
	}
	return terminated, nil
}
