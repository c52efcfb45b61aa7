package sessionguard

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSessionCreated       = "session_created"
	auditEventSessionReplayed      = "session_replayed"
	auditEventSessionCreateDenied  = "session_create_denied"
	auditEventSessionEvicted       = "session_evicted"
	auditEventSessionTerminated    = "session_terminated"
	auditEventSessionQuarantined   = "session_quarantined"
	auditEventSessionReactivated   = "session_reactivated"
	auditEventValidateFailure      = "validate_failure"
	auditEventValidateLockout      = "validate_lockout"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshConflict      = "refresh_conflict"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventTokenRevoked         = "token_revoked"
	auditEventLogoutAll            = "logout_all"
	auditEventTenantMismatch       = "tenant_mismatch"
	auditEventTenantSwitch         = "tenant_switch"
	auditEventMembershipDenied     = "membership_denied"
	auditEventDeviceRejected       = "device_rejected"
	auditEventDeviceTrustGranted   = "device_trust_granted"
	auditEventDeviceTrustRevoked   = "device_trust_revoked"
	auditEventRiskStepUp           = "risk_step_up"
	auditEventRiskQuarantine       = "risk_quarantine"
	auditEventActivityEnforced     = "activity_enforced"
)

// AuditErrorCode is the stable machine-readable error label carried in
// audit events.
type AuditErrorCode string

const (
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenSignature     AuditErrorCode = "token_signature"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrTokenMalformed     AuditErrorCode = "token_malformed"
	auditErrRotationConflict   AuditErrorCode = "rotation_conflict"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrSessionTerminated  AuditErrorCode = "session_terminated"
	auditErrSessionQuarantined AuditErrorCode = "session_quarantined"
	auditErrStepUpRequired     AuditErrorCode = "step_up_required"
	auditErrTenantMismatch     AuditErrorCode = "tenant_mismatch"
	auditErrTenantInactive     AuditErrorCode = "tenant_inactive"
	auditErrMembershipDenied   AuditErrorCode = "membership_denied"
	auditErrDeviceNotTrusted   AuditErrorCode = "device_not_trusted"
	auditErrDeviceMismatch     AuditErrorCode = "device_mismatch"
	auditErrConcurrentLimit    AuditErrorCode = "concurrent_limit"
	auditErrPolicyViolation    AuditErrorCode = "policy_violation"
	auditErrRiskQuarantine     AuditErrorCode = "risk_quarantine"
	auditErrValidationLocked   AuditErrorCode = "validation_locked"
	auditErrIdempotency        AuditErrorCode = "idempotency_conflict"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity AuditSeverity,
	success bool,
	tenantID string,
	userID string,
	sessionID string,
	err error,
	detailsBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID, _ = tenantIDFromContext(ctx)
	}

	var details map[string]string
	if detailsBuilder != nil {
		details = detailsBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Details:   details,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenSignature):
		return auditErrTokenSignature
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenMalformed):
		return auditErrTokenMalformed
	case errors.Is(err, ErrTokenRotationConflict):
		return auditErrRotationConflict
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrSessionTerminated):
		return auditErrSessionTerminated
	case errors.Is(err, ErrSessionQuarantined):
		return auditErrSessionQuarantined
	case errors.Is(err, ErrStepUpRequired):
		return auditErrStepUpRequired
	case errors.Is(err, ErrTenantMismatch):
		return auditErrTenantMismatch
	case errors.Is(err, ErrTenantInactive):
		return auditErrTenantInactive
	case errors.Is(err, ErrMembershipDenied):
		return auditErrMembershipDenied
	case errors.Is(err, ErrDeviceNotTrusted):
		return auditErrDeviceNotTrusted
	case errors.Is(err, ErrDeviceMismatch):
		return auditErrDeviceMismatch
	case errors.Is(err, ErrConcurrentLimitExceeded):
		return auditErrConcurrentLimit
	case errors.Is(err, ErrPolicyViolation):
		return auditErrPolicyViolation
	case errors.Is(err, ErrRiskQuarantine):
		return auditErrRiskQuarantine
	case errors.Is(err, ErrValidationLocked):
		return auditErrValidationLocked
	case errors.Is(err, ErrIdempotencyConflict):
		return auditErrIdempotency
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
