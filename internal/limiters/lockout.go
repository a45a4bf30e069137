// Package limiters holds the Redis-backed failed-attempt counter that
// drives temporary account lockout.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockoutKeyPrefix = "lockout:"

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
// Unlike the rate limiter this is fatal to the request: without the
// counter no lock verdict can be produced.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutConfig tunes the failed-attempt counter.
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that locks the
	// account.
	Threshold int

	// AttemptWindow is the counter TTL while below the threshold.
	AttemptWindow time.Duration

	// LockDuration is the counter TTL once the threshold is reached.
	LockDuration time.Duration
}

// LockoutLimiter tracks consecutive failed password attempts per user.
//
// One key holds both roles: below the threshold it is an attempt counter
// with a short TTL, at or above it is a lock with a longer TTL. Crossing
// the threshold re-stamps the TTL to the lock duration.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a lockout limiter backed by the given Redis client.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Minute
	}
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func lockoutKey(userID string) string {
	return lockoutKeyPrefix + userID
}

// IsLocked reports whether the user's failure count has reached the
// threshold. Callers must check this before any password comparison so a
// locked account never reveals timing differences between right and wrong
// passwords.
func (l *LockoutLimiter) IsLocked(ctx context.Context, userID string) (bool, error) {
	count, err := l.redis.Get(ctx, lockoutKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return count >= int64(l.config.Threshold), nil
}

// RecordFailure increments the user's failure counter. Returns true when
// the increment reached the threshold and the account is now locked.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string) (bool, error) {
	key := lockoutKey(userID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count >= int64(l.config.Threshold) {
		// The attempt counter becomes a lock: extend its life to the
		// full lock duration.
		if err := l.redis.Expire(ctx, key, l.config.LockDuration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		return true, nil
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.AttemptWindow).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	return false, nil
}

// Reset clears the failure counter, after a successful login or a manual
// unlock.
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, lockoutKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the user's current failure count. Missing keys
// return zero.
func (l *LockoutLimiter) FailureCount(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, lockoutKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
