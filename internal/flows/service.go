package flows

import (
	"context"

	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.ParseAccess != nil
}

func (s Service) CreateSession(ctx context.Context, req CreateRequest) CreateResult {
	return RunCreateSession(ctx, req, s.deps.Create)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Validate(ctx context.Context, tokenStr string, routeMode int) ValidateResult {
	return RunValidate(ctx, tokenStr, routeMode, s.deps.Validate)
}

func (s Service) Terminate(ctx context.Context, tenantID, sessionID, reason string) TerminateResult {
	return RunTerminate(ctx, tenantID, sessionID, reason, s.deps.Terminate)
}

func (s Service) RevokeByRefreshToken(ctx context.Context, refreshToken, reason string) TerminateResult {
	return RunRevokeByRefreshToken(ctx, refreshToken, reason, s.deps.Terminate)
}

func (s Service) TerminateAll(ctx context.Context, tenantID, userID, excludeDeviceID, reason string) ([]string, error) {
	return RunTerminateAll(ctx, tenantID, userID, excludeDeviceID, reason, s.deps.Terminate)
}

func (s Service) RecordActivity(ctx context.Context, tenantID, sessionID string, kind risk.EventKind, ip string) ActivityResult {
	return RunRecordActivity(ctx, tenantID, sessionID, kind, ip, s.deps.Activity)
}

func (s Service) Reauthenticate(ctx context.Context, tenantID, sessionID string, securityLevel uint8) ReauthResult {
	return RunReauthenticate(ctx, tenantID, sessionID, securityLevel, s.deps.Activity)
}

func (s Service) SwitchTenant(ctx context.Context, refreshToken, targetTenantID string) SwitchResult {
	return RunSwitchTenant(ctx, refreshToken, targetTenantID, s.deps.Switch)
}

func (s Service) ListSessions(ctx context.Context, tenantID, userID string) ([]*session.Session, error) {
	return RunListSessions(ctx, tenantID, userID, s.deps.Introspection)
}

func (s Service) GetSession(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	return RunGetSession(ctx, tenantID, sessionID, s.deps.Introspection)
}

func (s Service) SessionCount(ctx context.Context, tenantID, userID string) (int, error) {
	return RunSessionCount(ctx, tenantID, userID, s.deps.Introspection)
}

func (s Service) RecentActivity(ctx context.Context, tenantID, sessionID string, n int) ([][]byte, error) {
	return RunRecentActivity(ctx, tenantID, sessionID, n, s.deps.Introspection)
}
