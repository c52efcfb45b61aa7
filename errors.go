package sessionguard

import "errors"

var (
	// ErrTokenExpired is returned when a token's lifetime has passed beyond
	// the configured clock leeway.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignature is returned when a token's signature does not verify
	// against any configured key.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenRevoked is returned when a token or its session has been
	// explicitly revoked.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenMalformed is returned when a token cannot be parsed or is
	// missing required claims.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenRotationConflict is returned when a refresh loses the rotation
	// race to a concurrent refresh of the same session.
	ErrTokenRotationConflict = errors.New("token rotation conflict")
	// ErrRefreshReuse is returned when a refresh token from a superseded
	// generation is presented after a successful rotation.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is returned when no session record exists for the
	// presented credentials.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session record outlived its
	// absolute or idle timeout.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionTerminated is returned when operating on a session that was
	// terminated.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrSessionQuarantined is returned when a session is held in quarantine
	// pending reauthentication.
	ErrSessionQuarantined = errors.New("session quarantined")
	// ErrReauthRequired is returned when the session's idle timeout has
	// passed: the token still verifies, but the user must authenticate
	// again to obtain a new session.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrStepUpRequired is returned when policy demands fresh authentication
	// before the operation may proceed.
	ErrStepUpRequired = errors.New("step-up authentication required")
	// ErrTenantMismatch is returned when credentials are presented against a
	// tenant other than the one they were issued for.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrTenantInactive is returned when the tenant is suspended or deleted.
	ErrTenantInactive = errors.New("tenant inactive")
	// ErrMembershipDenied is returned when the user does not belong to the
	// requested tenant.
	ErrMembershipDenied = errors.New("tenant membership denied")
	// ErrDeviceNotTrusted is returned when policy requires device trust and
	// the presenting device has none.
	ErrDeviceNotTrusted = errors.New("device not trusted")
	// ErrDeviceMismatch is returned when a token is presented from a device
	// other than the one it was bound to.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrConcurrentLimitExceeded is returned when a new session would exceed
	// the tenant's concurrent session cap and eviction is disabled.
	ErrConcurrentLimitExceeded = errors.New("concurrent session limit exceeded")
	// ErrPolicyViolation is returned when a tenant policy blocks the
	// operation for a reason other than the dedicated errors above.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrRiskQuarantine is returned when the risk score crossed the
	// quarantine threshold during evaluation.
	ErrRiskQuarantine = errors.New("risk quarantine triggered")
	// ErrValidationLocked is returned when repeated validation failures have
	// locked the session out for the configured duration.
	ErrValidationLocked = errors.New("validation locked out")
	// ErrIdempotencyConflict is returned when another request holds the same
	// login idempotency key but has not finished creating its session yet.
	// Retryable: once the original attempt lands, a retry replays it.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrBackendUnavailable is returned when the storage backend cannot be
	// reached. Callers should treat it as retryable.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned when an operation is invoked before the
	// engine finished construction.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidRouteMode is returned when a per-route validation override
	// is not a recognized mode.
	ErrInvalidRouteMode = errors.New("invalid route validation mode")
)
