package sessionguard

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/sessionguard/sessionguard/device"
	"github.com/sessionguard/sessionguard/internal/flows"
	"github.com/sessionguard/sessionguard/internal/rate"
	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// Engine is the session and token security engine. Construct it with
// [New] and [Builder.Build].
//
// Engine instances are immutable after construction and safe for
// concurrent use.
type Engine struct {
	config   Config
	redis    redis.UniversalClient
	sessions *session.Store
	devices  *device.Registry
	lockouts *rate.Limiter
	tokens   *token.Manager
	detector *risk.Detector
	geo      GeoProvider

	membership MembershipProvider
	policyFor  func(ctx context.Context, tenantID string) (policy.Policy, error)

	flows   flows.Service
	audit   *auditDispatcher
	metrics *Metrics
}

// Close drains and stops the audit dispatcher. It does not close the
// Redis client, which the caller owns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Health reports engine readiness and backend reachability.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || !e.flows.Initialized() {
		return HealthStatus{}
	}
	status := HealthStatus{
		Ready:        true,
		AuditDropped: e.AuditDropped(),
	}
	if _, err := e.sessions.Ping(ctx); err == nil {
		status.RedisHealthy = true
	}
	return status
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters and
// histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

func claimSetFrom(c *token.Claims) ClaimSet {
	cs := ClaimSet{
		UserID:     c.Subject,
		TenantID:   c.TenantID,
		SessionID:  c.SessionID,
		DeviceID:   c.DeviceID,
		Generation: c.Generation,
		Scopes:     c.Scopes,
		TokenID:    c.ID,
		Extra:      c.Extra,
	}
	if c.ExpiresAt != nil {
		cs.ExpiresAt = c.ExpiresAt.Time
	}
	return cs
}

func tokenPairFrom(p *token.Pair) TokenPair {
	return TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
