package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Class identifies a route class with its own window and threshold.
type Class string

// Route classes known to the limiter.
const (
	ClassLogin         Class = "login"
	ClassRegistration  Class = "registration"
	ClassPasswordReset Class = "password_reset"
	ClassMFAVerify     Class = "mfa_verify"
	ClassAPI           Class = "api"
)

const keyPrefix = "rate_limit:"

var (
	// ErrUnknownClass is returned when a key names a class the limiter
	// has no policy for.
	ErrUnknownClass = errors.New("ratelimit: unknown route class")

	// ErrStoreUnavailable wraps Redis transport failures on operations
	// that cannot fail open.
	ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")
)

// Policy is the per-class window configuration.
type Policy struct {
	// Window is the fixed-window length. The counter expires Window after
	// its first hit.
	Window time.Duration

	// Max is the number of hits allowed per window. The Max+1th hit in
	// the same window is rejected.
	Max int

	// SkipSuccessful un-counts requests that ultimately succeed. Used by
	// the login and MFA classes so legitimate users are budgeted only by
	// their failures.
	SkipSuccessful bool

	// SkipFailed un-counts requests that fail. Used by the generic API
	// class where errors should not consume a well-behaved client's budget.
	SkipFailed bool
}

// DefaultPolicies returns the standard policy table. Callers may override
// individual entries before constructing the limiter.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassLogin:         {Window: 15 * time.Minute, Max: 5, SkipSuccessful: true},
		ClassRegistration:  {Window: time.Hour, Max: 3},
		ClassPasswordReset: {Window: time.Hour, Max: 3},
		ClassMFAVerify:     {Window: 15 * time.Minute, Max: 10, SkipSuccessful: true},
		ClassAPI:           {Window: time.Minute, Max: 100, SkipFailed: true},
	}
}

// Key identifies one counter. IP is always folded in; Email and UserID are
// folded in when present.
type Key struct {
	Class  Class
	IP     string
	Email  string
	UserID string
}

func (k Key) redisKey() string {
	parts := make([]string, 0, 3)
	if k.IP != "" {
		parts = append(parts, k.IP)
	}
	if k.Email != "" {
		parts = append(parts, strings.ToLower(strings.TrimSpace(k.Email)))
	}
	if k.UserID != "" {
		parts = append(parts, k.UserID)
	}
	return keyPrefix + string(k.Class) + ":" + strings.Join(parts, "|")
}

// Decision is the outcome of one hit.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int

	// RetryAfter is the time until the current window expires. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration

	// FailedOpen is set when the counter store was unreachable and the
	// request was allowed without being counted.
	FailedOpen bool
}

// forgiveScript decrements a counter without letting it resurrect an
// expired key or go negative.
var forgiveScript = redis.NewScript(`
local c = redis.call("GET", KEYS[1])
if not c then
	return 0
end
if tonumber(c) <= 0 then
	return 0
end
return redis.call("DECR", KEYS[1])
`)

// Limiter enforces the per-class policy table against Redis counters.
type Limiter struct {
	redis    redis.UniversalClient
	policies map[Class]Policy
}

// New creates a [Limiter] backed by the given Redis client. A nil policy
// table falls back to [DefaultPolicies].
func New(redisClient redis.UniversalClient, policies map[Class]Policy) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{
		redis:    redisClient,
		policies: policies,
	}
}

// Policy returns the policy for a class and whether one is configured.
func (l *Limiter) Policy(class Class) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Hit counts one request against the key's window and decides whether it is
// within budget. The first hit in a window sets the counter's TTL to the
// window length. If Redis is unreachable the request is allowed and the
// decision carries FailedOpen.
func (l *Limiter) Hit(ctx context.Context, key Key) (Decision, error) {
	policy, ok := l.policies[key.Class]
	if !ok {
		return Decision{}, ErrUnknownClass
	}

	redisKey := key.redisKey()

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true, FailedOpen: true}, nil
	}

	// Fixed-window semantics: TTL starts at the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, policy.Window).Err(); err != nil {
			return Decision{Allowed: true, FailedOpen: true}, nil
		}
	}

	if count > int64(policy.Max) {
		retryAfter := policy.Window
		if ttl, err := l.redis.PTTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return Decision{
			Allowed:    false,
			Count:      count,
			RetryAfter: retryAfter,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Count:     count,
		Remaining: policy.Max - int(count),
	}, nil
}

// ShouldForgive reports whether the class policy un-counts a request with
// the given outcome.
func (l *Limiter) ShouldForgive(class Class, success bool) bool {
	policy, ok := l.policies[class]
	if !ok {
		return false
	}
	if success {
		return policy.SkipSuccessful
	}
	return policy.SkipFailed
}

// Forgive removes one previously counted hit from the key's window. The
// counter never goes negative; a key that already expired stays absent.
func (l *Limiter) Forgive(ctx context.Context, key Key) error {
	if _, ok := l.policies[key.Class]; !ok {
		return ErrUnknownClass
	}
	if err := forgiveScript.Run(ctx, l.redis, []string{key.redisKey()}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Reset clears the counter for a key entirely.
func (l *Limiter) Reset(ctx context.Context, key Key) error {
	if err := l.redis.Del(ctx, key.redisKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
