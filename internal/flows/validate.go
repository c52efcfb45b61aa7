package flows

import (
	"context"
	"errors"
	"time"

	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// ModeResolverConfig lets the host package resolve route and engine
// validation modes without this package importing its enums.
type ModeResolverConfig struct {
	ModeInherit int
	ModeJWTOnly int
	ModeHybrid  int
	ModeStrict  int
}

// ResolveRouteMode resolves a route mode override against the engine
// default mode.
func ResolveRouteMode(routeMode, engineMode int, cfg ModeResolverConfig) (int, bool) {
	switch routeMode {
	case cfg.ModeInherit:
		switch engineMode {
		case cfg.ModeJWTOnly, cfg.ModeHybrid, cfg.ModeStrict:
			return engineMode, true
		default:
			return 0, false
		}
	case cfg.ModeJWTOnly, cfg.ModeHybrid, cfg.ModeStrict:
		return routeMode, true
	default:
		return 0, false
	}
}

// ValidateFailureKind classifies validation failures for root-level
// mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureParse
	ValidateFailureClockSkew
	ValidateFailureInvalidRouteMode
	ValidateFailureTenantMismatch
	ValidateFailureRevoked
	ValidateFailureLockout
	ValidateFailureSessionNotFound
	ValidateFailureSessionExpired
	ValidateFailureSessionTerminated
	ValidateFailureSessionQuarantined
	ValidateFailureIdleTimeout
	ValidateFailureDeviceMismatch
	ValidateFailureBackend
)

// ValidateResult carries verified claims, the loaded session under
// strict mode, and an advisory action.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error

	Claims  *token.Claims
	Session *session.Session
	Action  policy.Action
}

// ValidateSessionStore is the subset of the session store validation
// touches.
type ValidateSessionStore interface {
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	Touch(ctx context.Context, tenantID, sessionID string, at time.Time) error
	Terminate(ctx context.Context, tenantID, userID, sessionID, reason string) (bool, error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	ChainFloor(ctx context.Context, sessionID string) (int64, bool, error)
}

// ValidateLockout gates strict validation behind the failure lockout.
type ValidateLockout interface {
	CheckLockout(ctx context.Context, sessionID string) error
	Failures(ctx context.Context, sessionID string) (int, error)
}

// ValidateDeps captures validation flow dependencies.
type ValidateDeps struct {
	Store   ValidateSessionStore
	Lockout ValidateLockout

	ParseAccess func(string) (*token.Claims, error)
	PolicyFor   func(ctx context.Context, tenantID string) (policy.Policy, error)

	ResolveMode func(routeMode int) (int, bool)
	ModeJWTOnly int
	ModeHybrid  int

	TenantFromContext func(context.Context) (string, bool)
	EnforceIsolation  bool

	Now          func() time.Time
	MaxClockSkew time.Duration

	LockedOut error
}

// RunValidate checks an access token at the requested depth. JWT-only
// stops at signature and time claims, hybrid adds revocation checks, and
// strict loads the session record and enforces its state.
func RunValidate(ctx context.Context, tokenStr string, routeMode int, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureParse, Err: err}
	}
	if deps.MaxClockSkew >= 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(deps.Now().Add(deps.MaxClockSkew)) {
			return ValidateResult{Failure: ValidateFailureClockSkew}
		}
	}

	if deps.EnforceIsolation {
		if ctxTenant, ok := deps.TenantFromContext(ctx); ok && ctxTenant != claims.TenantID {
			return ValidateResult{Failure: ValidateFailureTenantMismatch, Claims: claims}
		}
	}

	mode, ok := deps.ResolveMode(routeMode)
	if !ok {
		return ValidateResult{Failure: ValidateFailureInvalidRouteMode}
	}

	if mode == deps.ModeJWTOnly {
		return ValidateResult{Claims: claims, Action: policy.ActionAllow}
	}

	// Hybrid and strict both consult revocation state.
	revoked, err := deps.Store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureBackend, Err: err, Claims: claims}
	}
	if revoked {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}
	floor, hasFloor, err := deps.Store.ChainFloor(ctx, claims.SessionID)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureBackend, Err: err, Claims: claims}
	}
	if hasFloor && claims.Generation <= floor {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}

	if mode == deps.ModeHybrid {
		return ValidateResult{Claims: claims, Action: policy.ActionAllow}
	}

	return runStrict(ctx, claims, deps)
}

func runStrict(ctx context.Context, claims *token.Claims, deps ValidateDeps) ValidateResult {
	if deps.Lockout != nil {
		if err := deps.Lockout.CheckLockout(ctx, claims.SessionID); err != nil {
			if deps.LockedOut != nil && errors.Is(err, deps.LockedOut) {
				return ValidateResult{Failure: ValidateFailureLockout, Claims: claims}
			}
			return ValidateResult{Failure: ValidateFailureBackend, Err: err, Claims: claims}
		}
	}

	sess, err := deps.Store.Get(ctx, claims.TenantID, claims.SessionID)
	if err != nil {
		return ValidateResult{Failure: classifyGetError(err), Err: err, Claims: claims}
	}

	switch sess.State {
	case session.StateActive:
	case session.StateTerminated:
		return ValidateResult{Failure: ValidateFailureSessionTerminated, Claims: claims, Session: sess}
	case session.StateQuarantined:
		return ValidateResult{Failure: ValidateFailureSessionQuarantined, Claims: claims, Session: sess}
	case session.StateExpired:
		return ValidateResult{Failure: ValidateFailureSessionExpired, Claims: claims, Session: sess}
	default:
		return ValidateResult{Failure: ValidateFailureSessionNotFound, Claims: claims, Session: sess}
	}

	if claims.DeviceID != "" && sess.DeviceID != "" && claims.DeviceID != sess.DeviceID {
		return ValidateResult{Failure: ValidateFailureDeviceMismatch, Claims: claims, Session: sess}
	}

	now := deps.Now()
	pol, err := deps.PolicyFor(ctx, claims.TenantID)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureBackend, Err: err, Claims: claims, Session: sess}
	}
	// Idle timeout is a session concept, independent of token expiry: the
	// token may still verify while the session demands re-authentication.
	if pol.IdleTimeout > 0 && sess.LastAccessedAt > 0 {
		idleSince := time.Unix(sess.LastAccessedAt, 0)
		if now.Sub(idleSince) > pol.IdleTimeout {
			_, _ = deps.Store.Terminate(ctx, sess.TenantID, sess.UserID, sess.SessionID, "idle_timeout")
			return ValidateResult{Failure: ValidateFailureIdleTimeout, Claims: claims, Session: sess}
		}
	}

	_ = deps.Store.Touch(ctx, sess.TenantID, sess.SessionID, now)

	action := policy.ActionAllow
	if deps.Lockout != nil {
		if failures, err := deps.Lockout.Failures(ctx, sess.SessionID); err == nil && failures > 0 {
			action = policy.ActionWarn
		}
	}

	return ValidateResult{Claims: claims, Session: sess, Action: action}
}

func classifyGetError(err error) ValidateFailureKind {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ValidateFailureSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return ValidateFailureSessionExpired
	default:
		return ValidateFailureBackend
	}
}
