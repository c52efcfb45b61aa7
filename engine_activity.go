package sessionguard

import (
	"context"
	"fmt"

	"github.com/sessionguard/sessionguard/internal/flows"
	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
)

// RecordActivity scores one activity event for a session against its
// history and the tenant policy, appends it to the session's activity
// log, and applies any enforcement the policy demands. The client IP is
// taken from the context when set via [WithClientIP].
func (e *Engine) RecordActivity(ctx context.Context, tenantID, sessionID string, kind risk.EventKind) (*ActivityReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := e.flows.RecordActivity(ctx, tenantID, sessionID, kind, clientIPFromContext(ctx))
	if res.Failure != flows.ActivityFailureNone {
		return nil, e.activityFailureError(res.Failure, res.Session, res.Err)
	}

	report := &ActivityReport{
		Risk:     res.Risk,
		Action:   res.Decision.Action,
		Reason:   res.Decision.Reason,
		Enforced: res.Enforced,
	}
	e.recordActivityOutcome(ctx, tenantID, res)
	return report, nil
}

// Reauthenticate lifts a quarantined session back to Active after the
// caller has re-verified the user, clears the failure ledger, and mints a
// fresh credential pair at the session's current generation. Calling it
// on an active session refreshes credentials the same way after a
// successful step-up.
func (e *Engine) Reauthenticate(ctx context.Context, tenantID, sessionID string, securityLevel uint8) (*RefreshResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := e.flows.Reauthenticate(ctx, tenantID, sessionID, securityLevel)
	if res.Failure != flows.ActivityFailureNone {
		return nil, e.activityFailureError(res.Failure, res.Session, res.Err)
	}

	e.emitAudit(ctx, auditEventSessionReactivated, SeverityInfo, true, tenantID, res.Session.UserID, sessionID, nil, nil)

	return &RefreshResult{
		SessionID:  res.Session.SessionID,
		Generation: res.Session.Generation,
		Tokens:     tokenPairFrom(res.Pair),
	}, nil
}

func (e *Engine) activityFailureError(kind flows.ActivityFailureKind, sess *session.Session, cause error) error {
	switch kind {
	case flows.ActivityFailureSessionNotFound:
		return ErrSessionNotFound
	case flows.ActivityFailureSessionExpired:
		return ErrSessionExpired
	case flows.ActivityFailureSessionNotActive:
		if sess != nil && sess.State == session.StateQuarantined {
			return ErrSessionQuarantined
		}
		return ErrSessionTerminated
	default:
		if cause != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
		}
		return ErrBackendUnavailable
	}
}

func (e *Engine) recordActivityOutcome(ctx context.Context, tenantID string, res flows.ActivityResult) {
	userID := res.Session.UserID
	sessionID := res.Session.SessionID

	switch res.Decision.Action {
	case policy.ActionWarn:
		e.metricInc(MetricRiskFlagged)
	case policy.ActionStepUp:
		e.metricInc(MetricRiskStepUp)
		e.emitAudit(ctx, auditEventRiskStepUp, SeverityWarn, true, tenantID, userID, sessionID, nil, func() map[string]string {
			return map[string]string{"reason": res.Decision.Reason}
		})
	case policy.ActionQuarantine:
		e.metricInc(MetricRiskQuarantine)
		if res.Enforced {
			e.metricInc(MetricSessionQuarantined)
		}
		e.emitAudit(ctx, auditEventRiskQuarantine, SeverityCritical, true, tenantID, userID, sessionID, nil, func() map[string]string {
			return map[string]string{"reason": res.Decision.Reason}
		})
	case policy.ActionTerminate:
		if res.Enforced {
			e.metricInc(MetricSessionTerminated)
		}
		e.emitAudit(ctx, auditEventActivityEnforced, SeverityCritical, true, tenantID, userID, sessionID, nil, func() map[string]string {
			return map[string]string{"reason": res.Decision.Reason}
		})
	}
}
