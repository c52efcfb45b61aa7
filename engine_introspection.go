package sessionguard

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sessionguard/sessionguard/risk"
)

// ListActiveSessions returns the user's sessions in a tenant as read-only
// projections. currentSessionID, when set, marks the caller's own session
// in the result.
func (e *Engine) ListActiveSessions(ctx context.Context, tenantID, userID, currentSessionID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sessions, err := e.flows.ListSessions(ctx, tenantID, userID)
	if err != nil {
		return nil, mapIntrospectionError(err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if s == nil {
			continue
		}
		infos = append(infos, sessionInfoFrom(s, currentSessionID))
	}
	return infos, nil
}

// GetSession loads one session as a read-only projection.
func (e *Engine) GetSession(ctx context.Context, tenantID, sessionID string) (*SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sess, err := e.flows.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, mapIntrospectionError(err)
	}
	info := sessionInfoFrom(sess, "")
	return &info, nil
}

// ActiveSessionCount reports how many active sessions the user holds in a
// tenant.
func (e *Engine) ActiveSessionCount(ctx context.Context, tenantID, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.flows.SessionCount(ctx, tenantID, userID)
	if err != nil {
		return 0, mapIntrospectionError(err)
	}
	return n, nil
}

// RecentActivity returns the newest n scored activity events for a
// session, newest first.
func (e *Engine) RecentActivity(ctx context.Context, tenantID, sessionID string, n int) ([]risk.Event, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	payloads, err := e.flows.RecentActivity(ctx, tenantID, sessionID, n)
	if err != nil {
		return nil, mapIntrospectionError(err)
	}

	events := make([]risk.Event, 0, len(payloads))
	for _, payload := range payloads {
		var ev risk.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			// skip records from older formats rather than failing the read
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func mapIntrospectionError(err error) error {
	if errors.Is(err, ErrTenantMismatch) || errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return mapSessionError(err)
}
