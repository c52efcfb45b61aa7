package flows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sessionguard/sessionguard/device"
	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// CreateFailureKind classifies session creation failures for root-level
// error mapping.
type CreateFailureKind int

const (
	CreateFailureNone CreateFailureKind = iota
	CreateFailureIdempotencyConflict
	CreateFailureTenantInactive
	CreateFailureMembershipDenied
	CreateFailureDeviceRejected
	CreateFailurePolicy
	CreateFailureConcurrentLimit
	CreateFailureStepUp
	CreateFailureRiskQuarantine
	CreateFailureBackend
	CreateFailureIssueTokens
)

// CreateRequest is the flow-level session creation input.
type CreateRequest struct {
	UserID         string
	TenantID       string
	IP             string
	Device         device.Info
	Scopes         []string
	SecurityLevel  uint8
	IdempotencyKey string
}

// CreateResult carries the created session and credentials or failure
// metadata.
type CreateResult struct {
	Failure CreateFailureKind
	Err     error
	Reason  string

	Session  *session.Session
	Device   *device.Evaluation
	Risk     risk.Assessment
	Pair     *token.Pair
	Action   policy.Action
	Replayed bool

	// EvictedSessionID names the oldest session terminated to make room
	// under the concurrency limit, when eviction ran.
	EvictedSessionID string
}

// CreateSessionStore is the subset of the session store the creation
// flow touches.
type CreateSessionStore interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	ActiveSessionIDs(ctx context.Context, tenantID, userID string) ([]string, error)
	GetMany(ctx context.Context, tenantID string, sessionIDs []string) ([]*session.Session, error)
	Terminate(ctx context.Context, tenantID, userID, sessionID, reason string) (bool, error)
	RevokeChainFrom(ctx context.Context, sessionID string, gen int64, ttl time.Duration) error
	SetLastLocation(ctx context.Context, tenantID, sessionID string, lat, lon float64, country string, at time.Time) error
	ClaimLoginAttempt(ctx context.Context, idempotencyKey, sessionID string, window time.Duration) (bool, string, error)
	FulfillLoginAttempt(ctx context.Context, idempotencyKey, sessionID string, window time.Duration) error
	ReleaseLoginAttempt(ctx context.Context, idempotencyKey string) error
	AppendActivity(ctx context.Context, sessionID string, payload []byte, maxEvents int, retention time.Duration) error
	RecordAccessHour(ctx context.Context, tenantID, userID string, hour int, retention time.Duration) error
	AccessHourCounts(ctx context.Context, tenantID, userID string) ([24]int64, error)
}

// CreateDeviceRegistry evaluates the presented device.
type CreateDeviceRegistry interface {
	Evaluate(ctx context.Context, tenantID, userID string, info device.Info) (*device.Evaluation, error)
}

// CreateDeps captures session creation flow dependencies.
type CreateDeps struct {
	Store    CreateSessionStore
	Devices  CreateDeviceRegistry
	Geo      risk.GeoLookup
	Detector *risk.Detector

	PolicyFor func(ctx context.Context, tenantID string) (policy.Policy, error)

	// TenantActive and IsMember consult the integrator's directory. Nil
	// funcs skip the check.
	TenantActive func(ctx context.Context, tenantID string) (bool, error)
	IsMember     func(ctx context.Context, userID, tenantID string) (bool, error)

	IssuePair    func(spec token.PairSpec) (*token.Pair, error)
	NewSessionID func() string
	Now          func() time.Time

	// StepUpSecurityLevel is the minimum authentication strength that
	// satisfies a step-up demand at creation time.
	StepUpSecurityLevel uint8

	ActivityLogSize   int
	ActivityRetention time.Duration
	HourRetention     time.Duration
	IdempotencyWindow time.Duration
	RevocationTTL     time.Duration
}

// RunCreateSession runs the full creation pipeline: idempotency claim,
// tenant gate, device evaluation, risk scoring, policy enforcement,
// record creation, and token issuance.
func RunCreateSession(ctx context.Context, req CreateRequest, deps CreateDeps) CreateResult {
	now := deps.Now()

	claimed := false
	if req.IdempotencyKey != "" {
		ok, existingID, err := deps.Store.ClaimLoginAttempt(ctx, req.IdempotencyKey, "", deps.IdempotencyWindow)
		if err != nil {
			return CreateResult{Failure: CreateFailureBackend, Err: err}
		}
		if !ok {
			if existingID != "" {
				return replayCreate(ctx, req, existingID, deps)
			}
			// Another request holds the claim but has not recorded its
			// session yet. Creating here would mint a second session for
			// the same login attempt; the caller retries instead.
			return CreateResult{Failure: CreateFailureIdempotencyConflict, Reason: "login_attempt_in_flight"}
		}
		claimed = true
	}

	fail := func(kind CreateFailureKind, err error, reason string) CreateResult {
		if claimed {
			_ = deps.Store.ReleaseLoginAttempt(ctx, req.IdempotencyKey)
		}
		return CreateResult{Failure: kind, Err: err, Reason: reason}
	}

	if deps.TenantActive != nil {
		active, err := deps.TenantActive(ctx, req.TenantID)
		if err != nil {
			return fail(CreateFailureBackend, err, "")
		}
		if !active {
			return fail(CreateFailureTenantInactive, nil, "tenant_inactive")
		}
	}
	if deps.IsMember != nil {
		member, err := deps.IsMember(ctx, req.UserID, req.TenantID)
		if err != nil {
			return fail(CreateFailureBackend, err, "")
		}
		if !member {
			return fail(CreateFailureMembershipDenied, nil, "membership_denied")
		}
	}

	pol, err := deps.PolicyFor(ctx, req.TenantID)
	if err != nil {
		return fail(CreateFailureBackend, err, "")
	}

	eval, err := deps.Devices.Evaluate(ctx, req.TenantID, req.UserID, req.Device)
	if err != nil {
		return fail(CreateFailureBackend, err, "")
	}
	if pol.RequireDeviceTrust && eval.TrustLevel == device.TrustUntrusted {
		return fail(CreateFailureDeviceRejected, nil, policy.ReasonDeviceUntrusted)
	}

	loc, locKnown := lookupLocation(ctx, deps.Geo, req.IP)

	hours, err := deps.Store.AccessHourCounts(ctx, req.TenantID, req.UserID)
	if err != nil {
		// risk scoring degrades without history rather than blocking login
		hours = [24]int64{}
	}

	event := risk.Event{
		Timestamp: now,
		Kind:      risk.EventLogin,
		IP:        req.IP,
	}
	if locKnown {
		l := loc
		event.Location = &l
	}
	assessment := deps.Detector.Score(risk.Input{
		Event:      event,
		NewDevice:  !eval.Known,
		HourCounts: hours,
	})

	activeIDs, err := deps.Store.ActiveSessionIDs(ctx, req.TenantID, req.UserID)
	if err != nil {
		return fail(CreateFailureBackend, err, "")
	}

	decision := policy.Evaluate(pol, policy.EvalInput{
		Country:        loc.Country,
		CountryKnown:   locKnown,
		DeviceTrusted:  eval.TrustLevel > device.TrustUntrusted,
		ActiveSessions: len(activeIDs),
		RiskScore:      assessment.Score,
		HasRisk:        true,
	})

	evictedID := ""
	if decision.Reason == policy.ReasonConcurrentLimit {
		if !pol.EvictOldestOnLimit {
			return fail(CreateFailureConcurrentLimit, nil, decision.Reason)
		}
		var err error
		evictedID, err = evictOldest(ctx, deps.Store, req.TenantID, req.UserID, activeIDs, deps.RevocationTTL)
		if err != nil {
			return fail(CreateFailureBackend, err, "")
		}
		// limit resolved by eviction; re-run the remaining checks
		decision = policy.Evaluate(pol, policy.EvalInput{
			Country:        loc.Country,
			CountryKnown:   locKnown,
			DeviceTrusted:  eval.TrustLevel > device.TrustUntrusted,
			ActiveSessions: len(activeIDs) - 1,
			RiskScore:      assessment.Score,
			HasRisk:        true,
		})
	}

	switch decision.Action {
	case policy.ActionTerminate:
		return fail(CreateFailurePolicy, nil, decision.Reason)
	case policy.ActionQuarantine:
		return fail(CreateFailureRiskQuarantine, nil, decision.Reason)
	case policy.ActionStepUp:
		if req.SecurityLevel < deps.StepUpSecurityLevel {
			return fail(CreateFailureStepUp, nil, decision.Reason)
		}
		decision.Action = policy.ActionWarn
	}

	sess := &session.Session{
		SessionID:      deps.NewSessionID(),
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		DeviceID:       eval.DeviceID,
		State:          session.StateActive,
		SecurityLevel:  req.SecurityLevel,
		IP:             req.IP,
		Generation:     1,
		CreatedAt:      now.Unix(),
		LastAccessedAt: now.Unix(),
		ExpiresAt:      now.Add(pol.SessionTimeout).Unix(),
	}
	if err := deps.Store.Create(ctx, sess); err != nil {
		return fail(CreateFailureBackend, err, "")
	}
	if claimed {
		// Record the real session ID on the held claim so retries replay
		// this session. Best effort: the session itself is committed.
		_ = deps.Store.FulfillLoginAttempt(ctx, req.IdempotencyKey, sess.SessionID, deps.IdempotencyWindow)
	}

	if locKnown {
		if err := deps.Store.SetLastLocation(ctx, req.TenantID, sess.SessionID, loc.Lat, loc.Lon, loc.Country, now); err == nil {
			sess.LastLat, sess.LastLon = loc.Lat, loc.Lon
			sess.LastCountry = loc.Country
			sess.LastSeenAt = now.Unix()
			sess.HasLastCoords = true
		}
	}

	pair, err := deps.IssuePair(token.PairSpec{
		UserID:           req.UserID,
		TenantID:         req.TenantID,
		SessionID:        sess.SessionID,
		DeviceID:         eval.DeviceID,
		Generation:       sess.Generation,
		Scopes:           req.Scopes,
		SessionExpiresAt: time.Unix(sess.ExpiresAt, 0),
	})
	if err != nil {
		_, _ = deps.Store.Terminate(ctx, req.TenantID, req.UserID, sess.SessionID, "issue_failed")
		return fail(CreateFailureIssueTokens, err, "")
	}

	recordCreationActivity(ctx, sess, event, assessment, now, deps)

	return CreateResult{
		Session:          sess,
		Device:           eval,
		Risk:             assessment,
		Pair:             pair,
		Action:           decision.Action,
		EvictedSessionID: evictedID,
	}
}

// replayCreate serves an idempotent retry: the original session survives
// and a fresh pair is minted for its current generation.
func replayCreate(ctx context.Context, req CreateRequest, sessionID string, deps CreateDeps) CreateResult {
	sess, err := deps.Store.Get(ctx, req.TenantID, sessionID)
	if err != nil {
		return CreateResult{Failure: CreateFailureBackend, Err: err}
	}

	pair, err := deps.IssuePair(token.PairSpec{
		UserID:           sess.UserID,
		TenantID:         sess.TenantID,
		SessionID:        sess.SessionID,
		DeviceID:         sess.DeviceID,
		Generation:       sess.Generation,
		Scopes:           req.Scopes,
		SessionExpiresAt: time.Unix(sess.ExpiresAt, 0),
	})
	if err != nil {
		return CreateResult{Failure: CreateFailureIssueTokens, Err: err}
	}

	return CreateResult{
		Session:  sess,
		Pair:     pair,
		Action:   policy.ActionAllow,
		Replayed: true,
	}
}

func evictOldest(ctx context.Context, store CreateSessionStore, tenantID, userID string, activeIDs []string, revocationTTL time.Duration) (string, error) {
	sessions, err := store.GetMany(ctx, tenantID, activeIDs)
	if err != nil {
		return "", err
	}

	var oldest *session.Session
	for _, s := range sessions {
		if s == nil || s.State != session.StateActive {
			continue
		}
		if oldest == nil || s.CreatedAt < oldest.CreatedAt {
			oldest = s
		}
	}
	if oldest == nil {
		return "", nil
	}

	if _, err := store.Terminate(ctx, tenantID, userID, oldest.SessionID, "evicted"); err != nil {
		return "", err
	}
	// Floor the evicted session's chain so its outstanding tokens fail
	// hybrid validation, same as an explicit termination.
	if err := store.RevokeChainFrom(ctx, oldest.SessionID, chainFloorAll, revocationTTL); err != nil {
		return "", err
	}
	return oldest.SessionID, nil
}

func recordCreationActivity(ctx context.Context, sess *session.Session, event risk.Event, assessment risk.Assessment, now time.Time, deps CreateDeps) {
	event.SessionID = sess.SessionID
	event.RiskContribution = assessment.Score
	if payload, err := json.Marshal(event); err == nil {
		_ = deps.Store.AppendActivity(ctx, sess.SessionID, payload, deps.ActivityLogSize, deps.ActivityRetention)
	}
	_ = deps.Store.RecordAccessHour(ctx, sess.TenantID, sess.UserID, now.UTC().Hour(), deps.HourRetention)
}

func lookupLocation(ctx context.Context, geo risk.GeoLookup, ip string) (risk.Location, bool) {
	if geo == nil || ip == "" {
		return risk.Location{}, false
	}
	loc, err := geo.Lookup(ctx, ip)
	if err != nil {
		return risk.Location{}, false
	}
	return loc, true
}
