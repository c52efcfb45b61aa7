package sessionguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sessionguard/sessionguard/policy"
	"github.com/sessionguard/sessionguard/risk"
	"github.com/sessionguard/sessionguard/session"
)

type geoStub struct {
	locations map[string]risk.Location
}

func (g *geoStub) Lookup(_ context.Context, ip string) (risk.Location, error) {
	loc, ok := g.locations[ip]
	if !ok {
		return risk.Location{}, errors.New("unknown ip")
	}
	return loc, nil
}

func TestStrictValidationLoadsSession(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-strict")

	res, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeStrict)
	if err != nil {
		t.Fatalf("strict validate: %v", err)
	}
	if res.Session == nil {
		t.Fatal("strict mode must populate the session projection")
	}
	if res.Session.SessionID != created.SessionID {
		t.Fatalf("session id = %q, want %q", res.Session.SessionID, created.SessionID)
	}
	if res.Session.State != session.StateActive {
		t.Fatalf("session state = %v, want active", res.Session.State)
	}
	if !res.Session.Current {
		t.Fatal("the validated session should be marked current")
	}
	if res.Action != policy.ActionAllow {
		t.Fatalf("action = %v, want allow", res.Action)
	}

	// Hybrid mode skips the session load entirely.
	hres, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeHybrid)
	if err != nil {
		t.Fatalf("hybrid validate: %v", err)
	}
	if hres.Session != nil {
		t.Fatal("hybrid mode must not populate the session projection")
	}
}

func TestQuarantineBlocksStrictUntilReauth(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-quarantine")

	if err := eng.sessions.Quarantine(ctx, "acme", created.SessionID); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	if _, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrSessionQuarantined) {
		t.Fatalf("strict validate while quarantined = %v, want ErrSessionQuarantined", err)
	}

	restored, err := eng.Reauthenticate(ctx, "acme", created.SessionID, 2)
	if err != nil {
		t.Fatalf("Reauthenticate: %v", err)
	}
	if restored.SessionID != created.SessionID {
		t.Fatalf("reauth session = %q, want %q", restored.SessionID, created.SessionID)
	}
	if restored.Tokens.AccessToken == "" {
		t.Fatal("reauthentication must mint a fresh credential pair")
	}

	res, err := eng.Validate(ctx, restored.Tokens.AccessToken, ModeStrict)
	if err != nil {
		t.Fatalf("strict validate after reauth: %v", err)
	}
	if res.Session.State != session.StateActive {
		t.Fatalf("session state after reauth = %v, want active", res.Session.State)
	}
}

func TestImpossibleTravelQuarantinesSession(t *testing.T) {
	eng := newTestEngine(t, nil, func(b *Builder) {
		b.WithGeoProvider(&geoStub{locations: map[string]risk.Location{
			"198.51.100.7": {Lat: 51.5074, Lon: -0.1278, Country: "GB"},
			"203.0.113.9":  {Lat: -33.8688, Lon: 151.2093, Country: "AU"},
		}})
	})
	ctx := context.Background()

	res, err := eng.CreateSession(WithClientIP(ctx, "198.51.100.7"), CreateSessionRequest{
		UserID:   "user-1",
		TenantID: "acme",
		Device:   DeviceInfo{Fingerprint: "fp-travel", Platform: "test"},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	report, err := eng.RecordActivity(WithClientIP(ctx, "203.0.113.9"), "acme", res.SessionID, risk.EventRequest)
	if err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}
	if report.Action != policy.ActionQuarantine {
		t.Fatalf("action = %v, want quarantine", report.Action)
	}
	if !report.Enforced {
		t.Fatal("quarantine should be enforced on the session record")
	}
	if report.Risk.Score <= 0.85 {
		t.Fatalf("risk score = %v, want > 0.85", report.Risk.Score)
	}

	if _, err := eng.Validate(ctx, res.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrSessionQuarantined) {
		t.Fatalf("strict validate after quarantine = %v, want ErrSessionQuarantined", err)
	}
}

func TestIdleTimeoutRequiresReauth(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-idle")

	// Age the session past the default one-hour idle timeout. The access
	// token itself is still well within its lifetime.
	if err := eng.sessions.Touch(ctx, "acme", created.SessionID, time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	if _, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("strict validate after idle timeout = %v, want ErrReauthRequired", err)
	}

	// The idle session was terminated; later validations observe that.
	if _, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("strict validate after idle termination = %v, want ErrSessionTerminated", err)
	}
}

func TestValidationLockoutAfterRepeatedFailures(t *testing.T) {
	eng := newTestEngine(t, nil, func(b *Builder) {
		b.WithPolicyProvider(&policy.StaticProvider{Policies: map[string]policy.Policy{
			"acme": {
				MaxFailedValidations: 2,
				LockoutDuration:      time.Minute,
			},
		}})
	})
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-lockout")
	rotated, err := eng.Refresh(ctx, created.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Revoke the first generation so its access token keeps failing as
	// revoked while the session itself stays active.
	if err := eng.sessions.RevokeChainFrom(ctx, created.SessionID, 1, time.Hour); err != nil {
		t.Fatalf("RevokeChainFrom: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("failure %d = %v, want ErrTokenRevoked", i+1, err)
		}
	}

	_, err = eng.Validate(ctx, rotated.Tokens.AccessToken, ModeStrict)
	if !errors.Is(err, ErrValidationLocked) {
		t.Fatalf("validate while locked = %v, want ErrValidationLocked", err)
	}
}

func TestStrictValidationWarnsAfterFailures(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-warn")
	rotated, err := eng.Refresh(ctx, created.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := eng.sessions.RevokeChainFrom(ctx, created.SessionID, 1, time.Hour); err != nil {
		t.Fatalf("RevokeChainFrom: %v", err)
	}
	if _, err := eng.Validate(ctx, created.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked failure, got %v", err)
	}

	res, err := eng.Validate(ctx, rotated.Tokens.AccessToken, ModeStrict)
	if err != nil {
		t.Fatalf("strict validate: %v", err)
	}
	if res.Action != policy.ActionWarn {
		t.Fatalf("action = %v, want warn after a recorded failure", res.Action)
	}
}

func TestRecentActivityReturnsScoredEvents(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-activity")
	if _, err := eng.RecordActivity(ctx, "acme", created.SessionID, risk.EventRequest); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}

	events, err := eng.RecentActivity(ctx, "acme", created.SessionID, 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("events = %d, want at least login and request", len(events))
	}
	for _, ev := range events {
		if ev.SessionID != created.SessionID {
			t.Fatalf("event session = %q, want %q", ev.SessionID, created.SessionID)
		}
	}
}
