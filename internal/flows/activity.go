package flows

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
	"github.com/sessionguard/sessionguard/token"
)

// ActivityFailureKind classifies activity flow failures.
type ActivityFailureKind int

const (
	ActivityFailureNone ActivityFailureKind = iota
	ActivityFailureSessionNotFound
	ActivityFailureSessionExpired
	ActivityFailureSessionNotActive
	ActivityFailureBackend
)

// ActivityResult carries the assessment and the enforcement decision the
// policy produced for one activity event.
type ActivityResult struct {
	Failure ActivityFailureKind
	Err     error

	Session  *session.Session
	Risk     risk.Assessment
	Decision policy.Decision
	// Enforced reports that the decision was applied to the session
	// (quarantine or termination), not just returned.
	Enforced bool
}

// ActivitySessionStore is the subset of the session store activity
// recording touches.
type ActivitySessionStore interface {
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	Touch(ctx context.Context, tenantID, sessionID string, at time.Time) error
	SetLastLocation(ctx context.Context, tenantID, sessionID string, lat, lon float64, country string, at time.Time) error
	Terminate(ctx context.Context, tenantID, userID, sessionID, reason string) (bool, error)
	Quarantine(ctx context.Context, tenantID, sessionID string) error
	Reactivate(ctx context.Context, tenantID, sessionID string) error
	RevokeChainFrom(ctx context.Context, sessionID string, gen int64, ttl time.Duration) error
	AppendActivity(ctx context.Context, sessionID string, payload []byte, maxEvents int, retention time.Duration) error
	RecentActivity(ctx context.Context, sessionID string, n int) ([][]byte, error)
	RecordAccessHour(ctx context.Context, tenantID, userID string, hour int, retention time.Duration) error
	AccessHourCounts(ctx context.Context, tenantID, userID string) ([24]int64, error)
}

// ActivityLockout feeds the failure burst factor and resets after
// reauthentication.
type ActivityLockout interface {
	Failures(ctx context.Context, sessionID string) (int, error)
	Reset(ctx context.Context, sessionID string) error
}

// ActivityDeps captures activity and reauthentication flow dependencies.
type ActivityDeps struct {
	Store    ActivitySessionStore
	Lockout  ActivityLockout
	Geo      risk.GeoLookup
	Detector *risk.Detector

	PolicyFor func(ctx context.Context, tenantID string) (policy.Policy, error)
	IssuePair func(spec token.PairSpec) (*token.Pair, error)

	DeviceTrusted func(ctx context.Context, tenantID, userID, deviceID string) (bool, error)

	Now func() time.Time

	RevocationTTL     time.Duration
	ActivityLogSize   int
	ActivityRetention time.Duration
	HourRetention     time.Duration
}

// RunRecordActivity scores one activity event against the session's
// history, applies the tenant policy's verdict, and appends the event to
// the session's activity log.
func RunRecordActivity(ctx context.Context, tenantID, sessionID string, kind risk.EventKind, ip string, deps ActivityDeps) ActivityResult {
	now := deps.Now()

	sess, err := deps.Store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return ActivityResult{Failure: classifyActivityError(err), Err: err}
	}
	switch sess.State {
	case session.StateActive:
	case session.StateExpired:
		return ActivityResult{Failure: ActivityFailureSessionExpired, Session: sess}
	default:
		return ActivityResult{Failure: ActivityFailureSessionNotActive, Session: sess}
	}

	loc, locKnown := lookupLocation(ctx, deps.Geo, ip)

	failures := 0
	if deps.Lockout != nil {
		if n, err := deps.Lockout.Failures(ctx, sessionID); err == nil {
			failures = n
		}
	}
	hours, err := deps.Store.AccessHourCounts(ctx, tenantID, sess.UserID)
	if err != nil {
		hours = [24]int64{}
	}

	event := risk.Event{
		SessionID: sessionID,
		Timestamp: now,
		Kind:      kind,
		IP:        ip,
	}
	if locKnown {
		l := loc
		event.Location = &l
	}

	assessment := deps.Detector.Score(risk.Input{
		Event:          event,
		HasPrev:        sess.HasLastCoords,
		PrevLat:        sess.LastLat,
		PrevLon:        sess.LastLon,
		PrevSeenAt:     time.Unix(sess.LastSeenAt, 0),
		PrevCountry:    sess.LastCountry,
		RecentFailures: failures,
		HourCounts:     hours,
	})

	pol, err := deps.PolicyFor(ctx, tenantID)
	if err != nil {
		return ActivityResult{Failure: ActivityFailureBackend, Err: err, Session: sess}
	}

	trusted := true
	if pol.RequireDeviceTrust && deps.DeviceTrusted != nil {
		if ok, err := deps.DeviceTrusted(ctx, tenantID, sess.UserID, sess.DeviceID); err == nil {
			trusted = ok
		}
	}

	decision := policy.Evaluate(pol, policy.EvalInput{
		Country:       loc.Country,
		CountryKnown:  locKnown,
		DeviceTrusted: trusted,
		RiskScore:     assessment.Score,
		HasRisk:       true,
	})

	enforced := false
	switch decision.Action {
	case policy.ActionQuarantine:
		if err := deps.Store.Quarantine(ctx, tenantID, sessionID); err == nil {
			enforced = true
		}
	case policy.ActionTerminate:
		if _, err := deps.Store.Terminate(ctx, tenantID, sess.UserID, sessionID, decision.Reason); err == nil {
			enforced = true
			_ = deps.Store.RevokeChainFrom(ctx, sessionID, chainFloorAll, deps.RevocationTTL)
		}
	}

	if locKnown && !enforced {
		_ = deps.Store.SetLastLocation(ctx, tenantID, sessionID, loc.Lat, loc.Lon, loc.Country, now)
	}
	if !enforced {
		_ = deps.Store.Touch(ctx, tenantID, sessionID, now)
	}

	event.RiskContribution = assessment.Score
	if payload, err := json.Marshal(event); err == nil {
		_ = deps.Store.AppendActivity(ctx, sessionID, payload, deps.ActivityLogSize, deps.ActivityRetention)
	}
	_ = deps.Store.RecordAccessHour(ctx, tenantID, sess.UserID, now.UTC().Hour(), deps.HourRetention)

	return ActivityResult{
		Session:  sess,
		Risk:     assessment,
		Decision: decision,
		Enforced: enforced,
	}
}

// ReauthResult carries the outcome of a step-up reauthentication.
type ReauthResult struct {
	Failure ActivityFailureKind
	Err     error

	Session *session.Session
	Pair    *token.Pair
}

// RunReauthenticate lifts a quarantined session back to Active after the
// caller has re-verified the user, resets the failure lockout, and mints
// a fresh pair at the session's current generation.
func RunReauthenticate(ctx context.Context, tenantID, sessionID string, securityLevel uint8, deps ActivityDeps) ReauthResult {
	now := deps.Now()

	sess, err := deps.Store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return ReauthResult{Failure: classifyActivityError(err), Err: err}
	}

	switch sess.State {
	case session.StateQuarantined:
		if err := deps.Store.Reactivate(ctx, tenantID, sessionID); err != nil {
			return ReauthResult{Failure: ActivityFailureBackend, Err: err, Session: sess}
		}
		sess.State = session.StateActive
	case session.StateActive:
		// already active: reauth still refreshes credentials and clears
		// the failure ledger
	case session.StateExpired:
		return ReauthResult{Failure: ActivityFailureSessionExpired, Session: sess}
	default:
		return ReauthResult{Failure: ActivityFailureSessionNotActive, Session: sess}
	}

	if deps.Lockout != nil {
		_ = deps.Lockout.Reset(ctx, sessionID)
	}
	if securityLevel > sess.SecurityLevel {
		sess.SecurityLevel = securityLevel
	}

	pair, err := deps.IssuePair(token.PairSpec{
		UserID:           sess.UserID,
		TenantID:         sess.TenantID,
		SessionID:        sess.SessionID,
		DeviceID:         sess.DeviceID,
		Generation:       sess.Generation,
		SessionExpiresAt: time.Unix(sess.ExpiresAt, 0),
	})
	if err != nil {
		return ReauthResult{Failure: ActivityFailureBackend, Err: err, Session: sess}
	}

	event := risk.Event{
		SessionID: sessionID,
		Timestamp: now,
		Kind:      risk.EventReauth,
	}
	if payload, err := json.Marshal(event); err == nil {
		_ = deps.Store.AppendActivity(ctx, sessionID, payload, deps.ActivityLogSize, deps.ActivityRetention)
	}

	return ReauthResult{Session: sess, Pair: pair}
}

func classifyActivityError(err error) ActivityFailureKind {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ActivityFailureSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return ActivityFailureSessionExpired
	default:
		return ActivityFailureBackend
	}
}
