package sessionguard

import (
	"context"
	"fmt"
	"time"

	"github.com/sessionguard/sessionguard/internal/flows"
	"github.com/sessionguard/sessionguard/token"
)

// ValidateAccess verifies an access token at the engine's configured
// validation depth.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*ValidationResult, error) {
	return e.Validate(ctx, tokenStr, ModeInherit)
}

// Validate verifies an access token with a per-route depth override.
// ModeJWTOnly stops at signature and time claims, ModeHybrid adds
// revocation checks, and ModeStrict loads and enforces the session
// record.
func (e *Engine) Validate(ctx context.Context, tokenStr string, routeMode RouteMode) (*ValidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	res := e.flows.Validate(ctx, tokenStr, int(routeMode))
	if res.Failure != flows.ValidateFailureNone {
		err := e.validateFailureError(res)
		e.recordValidateFailure(ctx, res, err)
		return nil, err
	}

	e.metricInc(MetricValidateSuccess)

	out := &ValidationResult{
		Claims: claimSetFrom(res.Claims),
		Action: res.Action,
	}
	if res.Session != nil {
		info := sessionInfoFrom(res.Session, res.Claims.SessionID)
		out.Session = &info
	}
	return out, nil
}

func (e *Engine) validateFailureError(res flows.ValidateResult) error {
	switch res.Failure {
	case flows.ValidateFailureParse:
		switch token.ClassifyError(res.Err) {
		case token.FailureExpired:
			return ErrTokenExpired
		case token.FailureSignature:
			return ErrTokenSignature
		default:
			return ErrTokenMalformed
		}
	case flows.ValidateFailureClockSkew:
		return ErrTokenMalformed
	case flows.ValidateFailureInvalidRouteMode:
		return ErrInvalidRouteMode
	case flows.ValidateFailureTenantMismatch:
		return ErrTenantMismatch
	case flows.ValidateFailureRevoked:
		return ErrTokenRevoked
	case flows.ValidateFailureLockout:
		return ErrValidationLocked
	case flows.ValidateFailureSessionNotFound:
		return ErrSessionNotFound
	case flows.ValidateFailureSessionExpired:
		return ErrSessionExpired
	case flows.ValidateFailureSessionTerminated:
		return ErrSessionTerminated
	case flows.ValidateFailureSessionQuarantined:
		return ErrSessionQuarantined
	case flows.ValidateFailureIdleTimeout:
		return ErrReauthRequired
	case flows.ValidateFailureDeviceMismatch:
		return ErrDeviceMismatch
	default:
		if res.Err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, res.Err)
		}
		return ErrBackendUnavailable
	}
}

func (e *Engine) recordValidateFailure(ctx context.Context, res flows.ValidateResult, err error) {
	e.metricInc(MetricValidateFailure)

	var tenantID, userID, sessionID string
	if res.Claims != nil {
		tenantID = res.Claims.TenantID
		userID = res.Claims.Subject
		sessionID = res.Claims.SessionID
	}

	switch res.Failure {
	case flows.ValidateFailureTenantMismatch:
		e.metricInc(MetricTenantMismatch)
		e.emitAudit(ctx, auditEventTenantMismatch, SeverityCritical, false, tenantID, userID, sessionID, err, nil)
		return
	case flows.ValidateFailureLockout:
		e.metricInc(MetricValidateLockout)
		e.emitAudit(ctx, auditEventValidateLockout, SeverityCritical, false, tenantID, userID, sessionID, err, nil)
		return
	case flows.ValidateFailureDeviceMismatch:
		e.countSessionFailure(ctx, tenantID, sessionID)
		e.emitAudit(ctx, auditEventValidateFailure, SeverityCritical, false, tenantID, userID, sessionID, err, nil)
		return
	case flows.ValidateFailureIdleTimeout:
		// The flow terminated the idle session before reporting.
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventSessionTerminated, SeverityInfo, false, tenantID, userID, sessionID, err, func() map[string]string {
			return map[string]string{"reason": "idle_timeout"}
		})
		return
	case flows.ValidateFailureRevoked:
		e.countSessionFailure(ctx, tenantID, sessionID)
	}

	e.emitAudit(ctx, auditEventValidateFailure, SeverityWarn, false, tenantID, userID, sessionID, err, nil)
}

// countSessionFailure feeds the per-session failure ledger that backs
// both lockout enforcement and failure-burst risk scoring.
func (e *Engine) countSessionFailure(ctx context.Context, tenantID, sessionID string) {
	if e.lockouts == nil || sessionID == "" {
		return
	}
	pol, err := e.policyFor(ctx, tenantID)
	if err != nil || pol.MaxFailedValidations <= 0 {
		return
	}
	_, _ = e.lockouts.RecordFailure(ctx, sessionID, pol.LockoutDuration, pol.MaxFailedValidations, pol.LockoutDuration)
}
