package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiterTest(t *testing.T) (*Limiter, *miniredis.Miniredis) {
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
	return New(rdb, "sg:rate"), mr
}

func TestRecordFailureArmsLockoutAtThreshold(t *testing.T) {
	l, _ := newLimiterTest(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		count, err := l.RecordFailure(ctx, "sid-1", time.Minute, 3, time.Minute)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, count)
		}
		if err := l.CheckLockout(ctx, "sid-1"); err != nil {
			t.Fatalf("no lockout expected below threshold: %v", err)
		}
	}

	if _, err := l.RecordFailure(ctx, "sid-1", time.Minute, 3, time.Minute); err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if err := l.CheckLockout(ctx, "sid-1"); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected ErrLockedOut at threshold, got %v", err)
	}

	// Other sessions stay unaffected.
	if err := l.CheckLockout(ctx, "sid-2"); err != nil {
		t.Fatalf("unrelated session locked: %v", err)
	}
}

func TestLockoutExpiresWithWindow(t *testing.T) {
	l, mr := newLimiterTest(t)
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, "sid-1", time.Minute, 1, time.Minute); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := l.CheckLockout(ctx, "sid-1"); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected lockout, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := l.CheckLockout(ctx, "sid-1"); err != nil {
		t.Fatalf("lockout must expire with its window: %v", err)
	}
	count, err := l.Failures(ctx, "sid-1")
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if count != 0 {
		t.Fatalf("failure counter must expire too, got %d", count)
	}
}

func TestZeroMaxFailuresNeverLocks(t *testing.T) {
	l, _ := newLimiterTest(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.RecordFailure(ctx, "sid-1", time.Minute, 0, time.Minute); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := l.CheckLockout(ctx, "sid-1"); err != nil {
		t.Fatalf("disabled threshold must never lock: %v", err)
	}
}

func TestResetClearsCounterAndLockout(t *testing.T) {
	l, _ := newLimiterTest(t)
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, "sid-1", time.Minute, 1, time.Minute); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := l.Reset(ctx, "sid-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if err := l.CheckLockout(ctx, "sid-1"); err != nil {
		t.Fatalf("expected lockout cleared: %v", err)
	}
	count, err := l.Failures(ctx, "sid-1")
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected counter cleared, got %d", count)
	}
}
