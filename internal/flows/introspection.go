package flows

import (
	"context"
	"time"

	"github.com/sessionguard/sessionguard/session"
)

// IntrospectionSessionStore is the read-only store surface used by
// session listing and health checks.
type IntrospectionSessionStore interface {
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	ActiveSessionIDs(ctx context.Context, tenantID, userID string) ([]string, error)
	ActiveSessionCount(ctx context.Context, tenantID, userID string) (int, error)
	GetMany(ctx context.Context, tenantID string, sessionIDs []string) ([]*session.Session, error)
	TenantSessionCount(ctx context.Context, tenantID string) (int, error)
	RecentActivity(ctx context.Context, sessionID string, n int) ([][]byte, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// IntrospectionDeps captures introspection flow dependencies.
type IntrospectionDeps struct {
	Store IntrospectionSessionStore

	TenantFromContext func(context.Context) (string, bool)
	EnforceIsolation  bool

	TenantMismatchErr error
	NotFoundErr       error
}

// resolveTenant cross-checks an explicit tenant against the request
// context. A context tenant that disagrees with the parameter is a
// cross-tenant probe and is rejected outright.
func resolveTenant(ctx context.Context, tenantID string, deps IntrospectionDeps) (string, error) {
	if ctxTenant, ok := deps.TenantFromContext(ctx); ok {
		if tenantID == "" {
			return ctxTenant, nil
		}
		if deps.EnforceIsolation && ctxTenant != tenantID {
			return "", deps.TenantMismatchErr
		}
	}
	return tenantID, nil
}

// RunListSessions returns the user's sessions in a tenant, active ones
// first as stored in the user index.
func RunListSessions(ctx context.Context, tenantID, userID string, deps IntrospectionDeps) ([]*session.Session, error) {
	tenantID, err := resolveTenant(ctx, tenantID, deps)
	if err != nil {
		return nil, err
	}

	ids, err := deps.Store.ActiveSessionIDs(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return deps.Store.GetMany(ctx, tenantID, ids)
}

// RunGetSession loads one session for inspection.
func RunGetSession(ctx context.Context, tenantID, sessionID string, deps IntrospectionDeps) (*session.Session, error) {
	tenantID, err := resolveTenant(ctx, tenantID, deps)
	if err != nil {
		return nil, err
	}
	return deps.Store.Get(ctx, tenantID, sessionID)
}

// RunSessionCount reports the user's active session count.
func RunSessionCount(ctx context.Context, tenantID, userID string, deps IntrospectionDeps) (int, error) {
	tenantID, err := resolveTenant(ctx, tenantID, deps)
	if err != nil {
		return 0, err
	}
	return deps.Store.ActiveSessionCount(ctx, tenantID, userID)
}

// RunRecentActivity returns the newest n activity records for a session.
func RunRecentActivity(ctx context.Context, tenantID, sessionID string, n int, deps IntrospectionDeps) ([][]byte, error) {
	tenantID, err := resolveTenant(ctx, tenantID, deps)
	if err != nil {
		return nil, err
	}
	// ownership check: the session must exist in this tenant's namespace
	if _, err := deps.Store.Get(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	return deps.Store.RecentActivity(ctx, sessionID, n)
}
