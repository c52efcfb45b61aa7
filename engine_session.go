package sessionguard

import (
	"context"
	"fmt"

	"github.com/sessionguard/sessionguard/internal/flows"
	"github.com/sessionguard/sessionguard/policy"
)

// CreateSession registers an authenticated session for a user the caller
// has already verified, and issues its first credential pair. The device
// report is evaluated against the trust registry and the event is risk
// scored before any record is written.
func (e *Engine) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = idempotencyKeyFromContext(ctx)
	}

	res := e.flows.CreateSession(ctx, flows.CreateRequest{
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		IP:             clientIPFromContext(ctx),
		Device:         req.Device,
		Scopes:         req.Scopes,
		SecurityLevel:  req.SecurityLevel,
		IdempotencyKey: idemKey,
	})

	if res.Failure != flows.CreateFailureNone {
		err := e.createFailureError(res.Failure, res.Err)
		e.auditCreateFailure(ctx, req, res, err)
		return nil, err
	}

	if res.EvictedSessionID != "" {
		e.metricInc(MetricSessionEvicted)
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventSessionEvicted, SeverityWarn, true, req.TenantID, req.UserID, res.EvictedSessionID, nil, func() map[string]string {
			return map[string]string{"reason": "concurrent_limit"}
		})
	}

	out := &CreateSessionResult{
		SessionID: res.Session.SessionID,
		Tokens:    tokenPairFrom(res.Pair),
		Risk:      res.Risk,
		Action:    res.Action,
		Replayed:  res.Replayed,
	}
	if res.Device != nil {
		out.Device = *res.Device
	}

	if res.Replayed {
		e.metricInc(MetricSessionReplayed)
		e.emitAudit(ctx, auditEventSessionReplayed, SeverityInfo, true, req.TenantID, req.UserID, out.SessionID, nil, nil)
		return out, nil
	}

	e.metricInc(MetricSessionCreated)
	if res.Action == policy.ActionWarn {
		e.metricInc(MetricRiskFlagged)
	}
	e.emitAudit(ctx, auditEventSessionCreated, SeverityInfo, true, req.TenantID, req.UserID, out.SessionID, nil, func() map[string]string {
		return map[string]string{
			"device_id": res.Session.DeviceID,
			"action":    res.Action.String(),
		}
	})

	return out, nil
}

// SwitchTenant creates a replacement session for the same user in
// another tenant, gated by the target tenant's status, membership, and
// policy, then terminates the source session. A session's tenant is
// never mutated in place.
func (e *Engine) SwitchTenant(ctx context.Context, refreshToken, targetTenantID string) (*CreateSessionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := e.flows.SwitchTenant(ctx, refreshToken, targetTenantID)
	if res.Failure != flows.CreateFailureNone {
		err := e.createFailureError(res.Failure, res.Err)
		e.emitAudit(ctx, auditEventTenantSwitch, SeverityWarn, false, targetTenantID, "", "", err, func() map[string]string {
			if res.Reason == "" {
				return nil
			}
			return map[string]string{"reason": res.Reason}
		})
		return nil, err
	}

	if res.EvictedSessionID != "" {
		e.metricInc(MetricSessionEvicted)
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventSessionEvicted, SeverityWarn, true, targetTenantID, res.Session.UserID, res.EvictedSessionID, nil, func() map[string]string {
			return map[string]string{"reason": "concurrent_limit"}
		})
	}

	e.metricInc(MetricSessionCreated)
	if res.TerminatedSourceID != "" {
		e.metricInc(MetricSessionTerminated)
	}
	e.emitAudit(ctx, auditEventTenantSwitch, SeverityInfo, true, targetTenantID, res.Session.UserID, res.Session.SessionID, nil, func() map[string]string {
		if res.TerminatedSourceID == "" {
			return nil
		}
		return map[string]string{"terminated_session": res.TerminatedSourceID}
	})

	return &CreateSessionResult{
		SessionID: res.Session.SessionID,
		Tokens:    tokenPairFrom(res.Pair),
		Action:    policy.ActionAllow,
	}, nil
}

func (e *Engine) createFailureError(kind flows.CreateFailureKind, cause error) error {
	switch kind {
	case flows.CreateFailureIdempotencyConflict:
		return ErrIdempotencyConflict
	case flows.CreateFailureTenantInactive:
		return ErrTenantInactive
	case flows.CreateFailureMembershipDenied:
		return ErrMembershipDenied
	case flows.CreateFailureDeviceRejected:
		return ErrDeviceNotTrusted
	case flows.CreateFailurePolicy:
		return ErrPolicyViolation
	case flows.CreateFailureConcurrentLimit:
		return ErrConcurrentLimitExceeded
	case flows.CreateFailureStepUp:
		return ErrStepUpRequired
	case flows.CreateFailureRiskQuarantine:
		return ErrRiskQuarantine
	case flows.CreateFailureIssueTokens:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
	default:
		if cause != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
		}
		return ErrBackendUnavailable
	}
}

func (e *Engine) auditCreateFailure(ctx context.Context, req CreateSessionRequest, res flows.CreateResult, err error) {
	eventType := auditEventSessionCreateDenied
	severity := SeverityWarn

	switch res.Failure {
	case flows.CreateFailureMembershipDenied:
		eventType = auditEventMembershipDenied
		e.metricInc(MetricMembershipDenied)
	case flows.CreateFailureDeviceRejected:
		eventType = auditEventDeviceRejected
		e.metricInc(MetricDeviceRejected)
	case flows.CreateFailureRiskQuarantine:
		eventType = auditEventRiskQuarantine
		severity = SeverityCritical
		e.metricInc(MetricRiskQuarantine)
	case flows.CreateFailureStepUp:
		eventType = auditEventRiskStepUp
		e.metricInc(MetricRiskStepUp)
	case flows.CreateFailurePolicy, flows.CreateFailureConcurrentLimit, flows.CreateFailureTenantInactive:
		e.metricInc(MetricPolicyDenied)
	}

	e.emitAudit(ctx, eventType, severity, false, req.TenantID, req.UserID, "", err, func() map[string]string {
		if res.Reason == "" {
			return nil
		}
		return map[string]string{"reason": res.Reason}
	})
}
