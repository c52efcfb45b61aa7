package sessionguard

import (
	"context"
	"fmt"

	"github.com/sessionguard/sessionguard/internal/flows"
	"github.com/sessionguard/sessionguard/token"
)

// Refresh rotates a refresh token to the next session generation and
// returns a fresh credential pair. Exactly one concurrent caller wins a
// rotation; losers receive [ErrTokenRotationConflict] and retry with the
// token they hold. Presenting a token from a superseded generation is
// treated as theft and terminates the session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := e.flows.Refresh(ctx, refreshToken)
	if res.Failure != flows.RefreshFailureNone {
		err := e.refreshFailureError(res)
		e.recordRefreshFailure(ctx, res, err)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, SeverityInfo, true, res.Session.TenantID, res.Session.UserID, res.Session.SessionID, nil, nil)

	return &RefreshResult{
		SessionID:  res.Session.SessionID,
		Generation: res.Session.Generation,
		Tokens:     tokenPairFrom(res.Pair),
	}, nil
}

func (e *Engine) refreshFailureError(res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureParse:
		switch token.ClassifyError(res.Err) {
		case token.FailureExpired:
			return ErrTokenExpired
		case token.FailureSignature:
			return ErrTokenSignature
		default:
			return ErrTokenMalformed
		}
	case flows.RefreshFailureTenantMismatch:
		return ErrTenantMismatch
	case flows.RefreshFailureTenantInactive:
		return ErrTenantInactive
	case flows.RefreshFailureMembershipDenied:
		return ErrMembershipDenied
	case flows.RefreshFailureRevoked:
		return ErrTokenRevoked
	case flows.RefreshFailureReuse:
		return ErrRefreshReuse
	case flows.RefreshFailureConflict:
		return ErrTokenRotationConflict
	case flows.RefreshFailureSessionNotFound:
		return ErrSessionNotFound
	case flows.RefreshFailureSessionExpired:
		return ErrSessionExpired
	case flows.RefreshFailureSessionNotActive:
		return ErrSessionTerminated
	default:
		if res.Err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, res.Err)
		}
		return ErrBackendUnavailable
	}
}

func (e *Engine) recordRefreshFailure(ctx context.Context, res flows.RefreshResult, err error) {
	switch res.Failure {
	case flows.RefreshFailureReuse:
		// The flow already terminated the session and floored its chain.
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, SeverityCritical, false, res.TenantID, "", res.SessionID, err, nil)
	case flows.RefreshFailureConflict:
		e.metricInc(MetricRefreshConflict)
		e.emitAudit(ctx, auditEventRefreshConflict, SeverityWarn, false, res.TenantID, "", res.SessionID, err, nil)
	case flows.RefreshFailureTenantMismatch:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricTenantMismatch)
		e.emitAudit(ctx, auditEventTenantMismatch, SeverityCritical, false, res.TenantID, "", res.SessionID, err, nil)
	case flows.RefreshFailureTenantInactive, flows.RefreshFailureMembershipDenied:
		// Membership cascade: the flow terminated the session.
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricMembershipDenied)
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventMembershipDenied, SeverityWarn, false, res.TenantID, "", res.SessionID, err, nil)
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, SeverityWarn, false, res.TenantID, "", res.SessionID, err, nil)
	}
}
