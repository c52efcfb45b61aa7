package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// Terminate ends one session and floors its token chain so every
// outstanding credential for it is rejected, including under hybrid
// validation.
func (e *Engine) Terminate(ctx context.Context, req TerminateRequest) error {
	if err := e.ready(); err != nil {
		return err
	}

	res := e.flows.Terminate(ctx, req.TenantID, req.SessionID, req.Reason)
	if res.Err != nil {
		err := mapSessionError(res.Err)
		e.emitAudit(ctx, auditEventSessionTerminated, SeverityWarn, false, req.TenantID, "", req.SessionID, err, nil)
		return err
	}

	e.metricInc(MetricSessionTerminated)
	e.emitAudit(ctx, auditEventSessionTerminated, SeverityInfo, true, req.TenantID, "", req.SessionID, nil, func() map[string]string {
		if req.Reason == "" {
			return nil
		}
		return map[string]string{"reason": req.Reason}
	})
	return nil
}

// RevokeRefreshToken revokes the presented refresh token, its access
// counterpart, and every earlier generation of the chain, then terminates
// the session they belong to.
func (e *Engine) RevokeRefreshToken(ctx context.Context, refreshToken, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}

	res := e.flows.RevokeByRefreshToken(ctx, refreshToken, reason)
	if res.Err != nil {
		var err error
		if res.SessionID == "" {
			switch token.ClassifyError(res.Err) {
			case token.FailureExpired:
				err = ErrTokenExpired
			case token.FailureSignature:
				err = ErrTokenSignature
			default:
				err = ErrTokenMalformed
			}
		} else {
			err = mapSessionError(res.Err)
		}
		e.emitAudit(ctx, auditEventTokenRevoked, SeverityWarn, false, "", "", res.SessionID, err, nil)
		return err
	}

	e.metricInc(MetricTokenRevoked)
	if res.Terminated {
		e.metricInc(MetricSessionTerminated)
	}
	e.emitAudit(ctx, auditEventTokenRevoked, SeverityInfo, true, "", "", res.SessionID, nil, func() map[string]string {
		if reason == "" {
			return nil
		}
		return map[string]string{"reason": reason}
	})
	return nil
}

// TerminateAllForUser ends every session the user holds in a tenant and
// floors each chain. excludeDeviceID, when set, spares sessions bound to
// that device so the caller's own session survives a "log out everywhere
// else". Returns the IDs of the sessions terminated.
func (e *Engine) TerminateAllForUser(ctx context.Context, tenantID, userID, excludeDeviceID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	terminated, err := e.flows.TerminateAll(ctx, tenantID, userID, excludeDeviceID, "logout_all")
	if err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, auditEventLogoutAll, SeverityWarn, false, tenantID, userID, "", mapped, nil)
		return nil, mapped
	}

	e.metricInc(MetricLogoutAll)
	for range terminated {
		e.metricInc(MetricSessionTerminated)
	}
	e.emitAudit(ctx, auditEventLogoutAll, SeverityInfo, true, tenantID, userID, "", nil, func() map[string]string {
		return map[string]string{"terminated": strconv.Itoa(len(terminated))}
	})
	return terminated, nil
}

// mapSessionError lifts leaf-store sentinels into the public error
// taxonomy.
func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return ErrSessionExpired
	case errors.Is(err, session.ErrSessionNotActive):
		return ErrSessionTerminated
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}
