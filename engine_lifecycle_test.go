package sessionguard

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-lifecycle")
	if created.Tokens.AccessToken == "" || created.Tokens.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	res, err := eng.ValidateAccess(ctx, created.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if res.Claims.UserID != "user-1" || res.Claims.TenantID != "acme" {
		t.Fatalf("unexpected claims: %+v", res.Claims)
	}
	if res.Claims.SessionID != created.SessionID {
		t.Fatalf("claims session = %q, want %q", res.Claims.SessionID, created.SessionID)
	}
	if res.Claims.Generation != 1 {
		t.Fatalf("generation = %d, want 1", res.Claims.Generation)
	}

	rotated, err := eng.Refresh(ctx, created.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.SessionID != created.SessionID {
		t.Fatalf("refresh session = %q, want %q", rotated.SessionID, created.SessionID)
	}
	if rotated.Generation != 2 {
		t.Fatalf("refresh generation = %d, want 2", rotated.Generation)
	}
	if rotated.Tokens.AccessToken == created.Tokens.AccessToken {
		t.Fatal("rotation must mint a new access token")
	}

	if _, err := eng.ValidateAccess(ctx, rotated.Tokens.AccessToken); err != nil {
		t.Fatalf("validate rotated access token: %v", err)
	}

	if err := eng.Terminate(ctx, TerminateRequest{
		TenantID:  "acme",
		SessionID: created.SessionID,
		Reason:    "logout",
	}); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	// Termination floors the token chain, so hybrid validation rejects
	// outstanding credentials without loading the session record.
	if _, err := eng.Validate(ctx, rotated.Tokens.AccessToken, ModeHybrid); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("hybrid validate after terminate = %v, want ErrTokenRevoked", err)
	}
	if _, err := eng.Validate(ctx, rotated.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("strict validate after terminate = %v, want ErrTokenRevoked", err)
	}

	// JWT-only validation never consults Redis and still accepts the
	// signature until the token expires on its own.
	if _, err := eng.Validate(ctx, rotated.Tokens.AccessToken, ModeJWTOnly); err != nil {
		t.Fatalf("jwt-only validate after terminate = %v, want success", err)
	}
}

func TestRefreshReplayOfConsumedTokenIsRevoked(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-replay")
	if _, err := eng.Refresh(ctx, created.Tokens.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	_, err := eng.Refresh(ctx, created.Tokens.RefreshToken)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("replayed refresh = %v, want ErrTokenRevoked", err)
	}
}

func TestRevokeRefreshTokenKillsChainAndSession(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-revoke")
	if err := eng.RevokeRefreshToken(ctx, created.Tokens.RefreshToken, "suspected theft"); err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}

	if _, err := eng.ValidateAccess(ctx, created.Tokens.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("validate after revoke = %v, want ErrTokenRevoked", err)
	}
	if _, err := eng.Refresh(ctx, created.Tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("refresh after revoke = %v, want ErrTokenRevoked", err)
	}

	count, err := eng.ActiveSessionCount(ctx, "acme", "user-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("active sessions after revoke = %d, want 0", count)
	}
}

func TestStaleRevocationCannotNarrowTerminatedChain(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-floor")
	second, err := eng.Refresh(ctx, created.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	third, err := eng.Refresh(ctx, second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if err := eng.Terminate(ctx, TerminateRequest{
		TenantID:  "acme",
		SessionID: created.SessionID,
		Reason:    "logout",
	}); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := eng.Validate(ctx, third.Tokens.AccessToken, ModeHybrid); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("hybrid validate after terminate = %v, want ErrTokenRevoked", err)
	}

	// Revoking the long-consumed generation-1 refresh token floors the
	// chain at 1; that must merge into the existing full floor, never
	// replace it and resurrect the newer tokens.
	if err := eng.RevokeRefreshToken(ctx, created.Tokens.RefreshToken, "stale report"); err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}

	if _, err := eng.Validate(ctx, third.Tokens.AccessToken, ModeHybrid); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("hybrid validate after stale revocation = %v, want ErrTokenRevoked", err)
	}
	if _, err := eng.Validate(ctx, third.Tokens.AccessToken, ModeStrict); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("strict validate after stale revocation = %v, want ErrTokenRevoked", err)
	}
	if _, err := eng.Refresh(ctx, third.Tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("refresh after stale revocation = %v, want ErrTokenRevoked", err)
	}
}

func TestTerminateAllSparesExcludedDevice(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	phone := createTestSession(t, eng, "acme", "user-1", "fp-phone")
	laptop := createTestSession(t, eng, "acme", "user-1", "fp-laptop")

	terminated, err := eng.TerminateAllForUser(ctx, "acme", "user-1", laptop.Device.DeviceID)
	if err != nil {
		t.Fatalf("TerminateAllForUser: %v", err)
	}
	if len(terminated) != 1 || terminated[0] != phone.SessionID {
		t.Fatalf("terminated = %v, want [%s]", terminated, phone.SessionID)
	}

	if _, err := eng.ValidateAccess(ctx, laptop.Tokens.AccessToken); err != nil {
		t.Fatalf("excluded device should stay valid: %v", err)
	}

	// The terminated session's chain is floored for all generations, so
	// its refresh token reports reuse rather than a rotation conflict.
	if _, err := eng.Refresh(ctx, phone.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("refresh of floored chain = %v, want ErrRefreshReuse", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	created := createTestSession(t, eng, "acme", "user-1", "fp-race")

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Refresh(ctx, created.Tokens.RefreshToken)
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins int
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenRotationConflict):
		case errors.Is(err, ErrTokenRevoked):
		default:
			t.Fatalf("racer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("refresh winners = %d, want exactly 1", wins)
	}
}
