package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const attemptsKeyPrefix = "mfa:attempts:"

// attemptLimiter is the per-user verification attempt budget, separate from
// the login lockout counter. Atomic INCR keeps concurrent failures counted.
type attemptLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	window      time.Duration
}

func (l *attemptLimiter) key(userID string) string {
	return attemptsKeyPrefix + userID
}

func (l *attemptLimiter) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrAttemptsExceeded
	}
	return nil
}

func (l *attemptLimiter) RecordFailure(ctx context.Context, userID string) error {
	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(userID), l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrAttemptsExceeded
	}
	return nil
}

func (l *attemptLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
