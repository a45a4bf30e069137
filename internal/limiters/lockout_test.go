package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLockout(t *testing.T, cfg LockoutConfig) (*LockoutLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLockoutLimiter(client, cfg), mr
}

func TestLockAfterThresholdFailures(t *testing.T) {
	limiter, _ := newTestLockout(t, LockoutConfig{
		Threshold:     3,
		AttemptWindow: time.Minute,
		LockDuration:  10 * time.Minute,
	})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		locked, err := limiter.RecordFailure(ctx, "user-1")
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if locked {
			t.Fatalf("locked after %d failures, threshold is 3", i)
		}
	}

	locked, err := limiter.RecordFailure(ctx, "user-1")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !locked {
		t.Fatal("third failure should lock the account")
	}

	if locked, err = limiter.IsLocked(ctx, "user-1"); err != nil || !locked {
		t.Fatalf("IsLocked = (%v, %v), want (true, nil)", locked, err)
	}
}

func TestThresholdExtendsTTLToLockDuration(t *testing.T) {
	limiter, mr := newTestLockout(t, LockoutConfig{
		Threshold:     2,
		AttemptWindow: time.Minute,
		LockDuration:  10 * time.Minute,
	})
	ctx := context.Background()

	if _, err := limiter.RecordFailure(ctx, "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if ttl := mr.TTL(lockoutKey("user-1")); ttl > time.Minute {
		t.Fatalf("attempt counter TTL = %v, want <= 1m", ttl)
	}

	if _, err := limiter.RecordFailure(ctx, "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if ttl := mr.TTL(lockoutKey("user-1")); ttl <= time.Minute {
		t.Fatalf("lock TTL = %v, want the longer lock duration", ttl)
	}
}

func TestAttemptWindowExpiryResetsCounter(t *testing.T) {
	limiter, mr := newTestLockout(t, LockoutConfig{
		Threshold:     2,
		AttemptWindow: time.Minute,
		LockDuration:  10 * time.Minute,
	})
	ctx := context.Background()

	if _, err := limiter.RecordFailure(ctx, "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	mr.FastForward(61 * time.Second)

	locked, err := limiter.RecordFailure(ctx, "user-1")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if locked {
		t.Fatal("stale failure must not count toward the threshold")
	}
}

func TestResetClearsFailures(t *testing.T) {
	limiter, _ := newTestLockout(t, LockoutConfig{
		Threshold:     2,
		AttemptWindow: time.Minute,
		LockDuration:  10 * time.Minute,
	})
	ctx := context.Background()

	if _, err := limiter.RecordFailure(ctx, "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := limiter.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	count, err := limiter.FailureCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("FailureCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count after reset = %d, want 0", count)
	}

	locked, err := limiter.RecordFailure(ctx, "user-1")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if locked {
		t.Fatal("first failure after reset must not lock")
	}
}

func TestLockExpires(t *testing.T) {
	limiter, mr := newTestLockout(t, LockoutConfig{
		Threshold:     1,
		AttemptWindow: time.Minute,
		LockDuration:  5 * time.Minute,
	})
	ctx := context.Background()

	if locked, err := limiter.RecordFailure(ctx, "user-1"); err != nil || !locked {
		t.Fatalf("RecordFailure = (%v, %v), want (true, nil)", locked, err)
	}

	mr.FastForward(5*time.Minute + time.Second)

	locked, err := limiter.IsLocked(ctx, "user-1")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatal("lock should expire after the lock duration")
	}
}

func TestUnknownUserNotLocked(t *testing.T) {
	limiter, _ := newTestLockout(t, LockoutConfig{
		Threshold:     3,
		AttemptWindow: time.Minute,
		LockDuration:  10 * time.Minute,
	})

	locked, err := limiter.IsLocked(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatal("user with no failures must not be locked")
	}
}
