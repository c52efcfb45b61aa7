package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStoreTest(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "sg", time.Hour), rdb
}

func activeSession(sessionID string) *Session {
	now := time.Now()
	return &Session{
		SessionID:      sessionID,
		UserID:         "u-1",
		TenantID:       "t-1",
		DeviceID:       "d-1",
		State:          StateActive,
		SecurityLevel:  1,
		IP:             "203.0.113.7",
		Generation:     1,
		CreatedAt:      now.Unix(),
		LastAccessedAt: now.Unix(),
		ExpiresAt:      now.Add(time.Hour).Unix(),
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()
	sess := activeSession("sid-1")

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, sess.TenantID, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != sess.UserID || got.DeviceID != sess.DeviceID {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if got.State != StateActive {
		t.Fatalf("expected active state, got %v", got.State)
	}
	if got.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", got.Generation)
	}

	if _, err := store.Get(ctx, sess.TenantID, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	count, err := store.TenantSessionCount(ctx, sess.TenantID)
	if err != nil {
		t.Fatalf("tenant count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected tenant count 1, got %d", count)
	}
}

func TestCreateRejectsAlreadyExpired(t *testing.T) {
	store, _ := newStoreTest(t)
	sess := activeSession("sid-1")
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()

	if err := store.Create(context.Background(), sess); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestGetPastExpirySoftDeletes(t *testing.T) {
	store, rdb := newStoreTest(t)
	ctx := context.Background()
	sess := activeSession("sid-1")

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Age the record under the store's feet.
	if err := rdb.HSet(ctx, store.key(sess.TenantID, sess.SessionID), fieldExpiresAt, time.Now().Add(-time.Minute).Unix()).Err(); err != nil {
		t.Fatalf("age record: %v", err)
	}

	got, err := store.Get(ctx, sess.TenantID, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateExpired {
		t.Fatalf("expected expired state, got %v", got.State)
	}

	members, err := rdb.SMembers(ctx, store.userKey(sess.TenantID, sess.UserID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected user index cleared, got %v", members)
	}
}

func TestRepeatedExpiryDecrementsCounterOnce(t *testing.T) {
	store, rdb := newStoreTest(t)
	ctx := context.Background()

	first := activeSession("sid-1")
	second := activeSession("sid-2")
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Racing sweeps land on the same record; only the first transition
	// touches the tenant counter.
	if err := store.markExpired(ctx, first); err != nil {
		t.Fatalf("first expiry: %v", err)
	}
	if err := store.markExpired(ctx, first); err != nil {
		t.Fatalf("repeated expiry: %v", err)
	}

	count, err := store.TenantSessionCount(ctx, first.TenantID)
	if err != nil {
		t.Fatalf("tenant count: %v", err)
	}
	if count != 1 {
		t.Fatalf("tenant count = %d, want 1", count)
	}

	if err := store.markExpired(ctx, second); err != nil {
		t.Fatalf("expire last session: %v", err)
	}
	raw, err := rdb.Exists(ctx, store.tenantCountKey(first.TenantID)).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if raw != 0 {
		t.Fatal("counter key should be deleted when the last session expires")
	}
}

func TestRotateGenerationSingleWinner(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()
	sess := activeSession("sid-1")

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	rotated, err := store.RotateGeneration(ctx, sess.TenantID, sess.SessionID, 1)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if rotated.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", rotated.Generation)
	}

	// A replayed token carries the old generation and must lose.
	if _, err := store.RotateGeneration(ctx, sess.TenantID, sess.SessionID, 1); !errors.Is(err, ErrGenerationConflict) {
		t.Fatalf("expected ErrGenerationConflict, got %v", err)
	}

	if _, err := store.RotateGeneration(ctx, sess.TenantID, "missing", 1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, err := store.Terminate(ctx, sess.TenantID, sess.UserID, sess.SessionID, "test"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := store.RotateGeneration(ctx, sess.TenantID, sess.SessionID, 2); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestTerminateIdempotentKeepsRecordForAudit(t *testing.T) {
	store, rdb := newStoreTest(t)
	ctx := context.Background()
	sess := activeSession("sid-1")

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.Terminate(ctx, sess.TenantID, sess.UserID, sess.SessionID, "logout")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !ok {
		t.Fatal("expected first terminate to report true")
	}

	ok, err = store.Terminate(ctx, sess.TenantID, sess.UserID, sess.SessionID, "logout")
	if err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if ok {
		t.Fatal("expected second terminate to report false")
	}

	got, err := store.Get(ctx, sess.TenantID, sess.SessionID)
	if err != nil {
		t.Fatalf("get after terminate: %v", err)
	}
	if got.State != StateTerminated {
		t.Fatalf("expected terminated state, got %v", got.State)
	}
	if got.TerminateReason != "logout" {
		t.Fatalf("expected reason kept, got %q", got.TerminateReason)
	}

	count, err := store.TenantSessionCount(ctx, sess.TenantID)
	if err != nil {
		t.Fatalf("tenant count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected tenant count 0, got %d", count)
	}

	members, _ := rdb.SMembers(ctx, store.userKey(sess.TenantID, sess.UserID)).Result()
	if len(members) != 0 {
		t.Fatalf("expected user index cleared, got %v", members)
	}
}

func TestTerminateAllForUserSparesExcludedDevice(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	for i, deviceID := range []string{"d-keep", "d-1", "d-2"} {
		sess := activeSession("sid-" + deviceID)
		sess.DeviceID = deviceID
		sess.Generation = int64(i + 1)
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("create %s: %v", deviceID, err)
		}
	}

	terminated, err := store.TerminateAllForUser(ctx, "t-1", "u-1", "d-keep", "logout_all")
	if err != nil {
		t.Fatalf("terminate all: %v", err)
	}
	if len(terminated) != 2 {
		t.Fatalf("expected 2 terminated, got %v", terminated)
	}

	kept, err := store.Get(ctx, "t-1", "sid-d-keep")
	if err != nil {
		t.Fatalf("get kept session: %v", err)
	}
	if kept.State != StateActive {
		t.Fatalf("excluded device session should stay active, got %v", kept.State)
	}
}

func TestQuarantineAndReactivateTransitions(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()
	sess := activeSession("sid-1")

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Quarantine(ctx, sess.TenantID, sess.SessionID); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	got, err := store.Get(ctx, sess.TenantID, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateQuarantined {
		t.Fatalf("expected quarantined, got %v", got.State)
	}

	// Quarantining a non-active session must not stick.
	if err := store.Quarantine(ctx, sess.TenantID, sess.SessionID); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}

	if err := store.Reactivate(ctx, sess.TenantID, sess.SessionID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	got, err = store.Get(ctx, sess.TenantID, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("expected active after reactivate, got %v", got.State)
	}

	if err := store.Quarantine(ctx, sess.TenantID, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevocationTombstoneAndChainFloor(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	revoked, err := store.IsTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatal("fresh jti must not be revoked")
	}

	if err := store.RevokeToken(ctx, "jti-1", time.Hour); err != nil {
		t.Fatalf("revoke token: %v", err)
	}
	revoked, err = store.IsTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected jti tombstoned")
	}

	// Floors only rise: a late revocation of a stale low generation must
	// not narrow an earlier, wider revocation.
	if err := store.RevokeChainFrom(ctx, "sid-1", 5, time.Hour); err != nil {
		t.Fatalf("revoke chain: %v", err)
	}
	if err := store.RevokeChainFrom(ctx, "sid-1", 3, time.Hour); err != nil {
		t.Fatalf("revoke stale generation: %v", err)
	}

	floor, found, err := store.ChainFloor(ctx, "sid-1")
	if err != nil {
		t.Fatalf("chain floor: %v", err)
	}
	if !found || floor != 5 {
		t.Fatalf("expected floor 5, got %d (found=%v)", floor, found)
	}

	if err := store.RevokeChainFrom(ctx, "sid-1", 7, time.Hour); err != nil {
		t.Fatalf("raise chain floor: %v", err)
	}
	floor, found, err = store.ChainFloor(ctx, "sid-1")
	if err != nil {
		t.Fatalf("chain floor: %v", err)
	}
	if !found || floor != 7 {
		t.Fatalf("expected floor 7, got %d (found=%v)", floor, found)
	}

	_, found, err = store.ChainFloor(ctx, "sid-other")
	if err != nil {
		t.Fatalf("chain floor: %v", err)
	}
	if found {
		t.Fatal("unrelated session must have no floor")
	}
}

func TestActivityLogCapsAndOrders(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c", "d", "e"} {
		if err := store.AppendActivity(ctx, "sid-1", []byte(payload), 3, time.Hour); err != nil {
			t.Fatalf("append %q: %v", payload, err)
		}
	}

	events, err := store.RecentActivity(ctx, "sid-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(events))
	}
	for i, want := range []string{"c", "d", "e"} {
		if string(events[i]) != want {
			t.Fatalf("event %d: expected %q, got %q", i, want, events[i])
		}
	}
}

func TestAccessHourHistogram(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	if err := store.RecordAccessHour(ctx, "t-1", "u-1", 9, time.Hour); err != nil {
		t.Fatalf("record hour: %v", err)
	}
	if err := store.RecordAccessHour(ctx, "t-1", "u-1", 9, time.Hour); err != nil {
		t.Fatalf("record hour: %v", err)
	}
	if err := store.RecordAccessHour(ctx, "t-1", "u-1", 23, time.Hour); err != nil {
		t.Fatalf("record hour: %v", err)
	}
	if err := store.RecordAccessHour(ctx, "t-1", "u-1", 24, time.Hour); err == nil {
		t.Fatal("expected invalid hour to be rejected")
	}

	counts, err := store.AccessHourCounts(ctx, "t-1", "u-1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[9] != 2 || counts[23] != 1 {
		t.Fatalf("unexpected histogram: %v", counts)
	}
}

func TestClaimLoginAttemptIdempotency(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	claimed, sid, err := store.ClaimLoginAttempt(ctx, "key-1", "sid-1", time.Minute)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed || sid != "sid-1" {
		t.Fatalf("expected fresh claim, got claimed=%v sid=%q", claimed, sid)
	}

	claimed, sid, err = store.ClaimLoginAttempt(ctx, "key-1", "sid-2", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed || sid != "sid-1" {
		t.Fatalf("expected replay to observe sid-1, got claimed=%v sid=%q", claimed, sid)
	}

	if err := store.ReleaseLoginAttempt(ctx, "key-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	claimed, _, err = store.ClaimLoginAttempt(ctx, "key-1", "sid-3", time.Minute)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed after release")
	}
}

func TestFulfillLoginAttemptKeepsClaimHeld(t *testing.T) {
	store, rdb := newStoreTest(t)
	ctx := context.Background()

	// First caller holds the key with no session recorded yet.
	claimed, _, err := store.ClaimLoginAttempt(ctx, "key-2", "", 10*time.Minute)
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	claimed, sid, err := store.ClaimLoginAttempt(ctx, "key-2", "sid-x", 10*time.Minute)
	if err != nil {
		t.Fatalf("concurrent claim: %v", err)
	}
	if claimed || sid != "" {
		t.Fatalf("held-but-empty claim must report claimed=false sid=%q", sid)
	}

	if err := store.FulfillLoginAttempt(ctx, "key-2", "sid-1", 5*time.Minute); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	// The fulfilled claim keeps its original window, not the shorter one.
	ttl, err := rdb.TTL(ctx, "sgla:key-2").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 5*time.Minute {
		t.Fatalf("fulfill must preserve the claim TTL, got %v", ttl)
	}

	claimed, sid, err = store.ClaimLoginAttempt(ctx, "key-2", "sid-2", time.Minute)
	if err != nil {
		t.Fatalf("claim after fulfill: %v", err)
	}
	if claimed || sid != "sid-1" {
		t.Fatalf("expected replay to observe sid-1, got claimed=%v sid=%q", claimed, sid)
	}

	// Fulfilling an expired claim re-arms it rather than failing.
	if err := store.FulfillLoginAttempt(ctx, "key-missing", "sid-9", time.Minute); err != nil {
		t.Fatalf("fulfill expired claim: %v", err)
	}
	claimed, sid, err = store.ClaimLoginAttempt(ctx, "key-missing", "sid-0", time.Minute)
	if err != nil {
		t.Fatalf("claim re-armed key: %v", err)
	}
	if claimed || sid != "sid-9" {
		t.Fatalf("expected re-armed claim sid-9, got claimed=%v sid=%q", claimed, sid)
	}
}
