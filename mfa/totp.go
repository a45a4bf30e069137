package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const (
	totpSecretBytes = 20

	totpStepKeyPrefix = "mfa:totp:step:"
)

// The claim script admits a time step only if it is strictly newer than the
// last accepted one, so a code value can never verify twice within its
// window step. GET and SET run as one script; of two concurrent verifies
// presenting the same code, exactly one claims the step.
const claimStepScript = `
local last = tonumber(redis.call("GET", KEYS[1]) or "-1")
if tonumber(ARGV[1]) <= last then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
return 1
`

var claimStepLua = redis.NewScript(claimStepScript)

// stepGuard records the last accepted TOTP time step per method in Redis.
type stepGuard struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func (g *stepGuard) key(methodID string) string {
	return totpStepKeyPrefix + methodID
}

// Claim marks a step consumed. A false return means the step was already
// used at or after the presented one.
func (g *stepGuard) Claim(ctx context.Context, methodID string, step int64) (bool, error) {
	res, err := claimStepLua.Run(ctx, g.redis,
		[]string{g.key(methodID)}, step, g.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

func (s *Service) generateKey(email string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: email,
		Period:      uint(s.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      s.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// validateTOTP checks a code against the secret within the configured
// clock-drift window. Validation errors (bad secret encoding) report as a
// plain mismatch; the caller cannot distinguish them and should not.
func (s *Service) validateTOTP(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    uint(s.config.Period),
		Skew:      uint(s.config.Skew),
		Digits:    s.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// matchTOTP pins a valid code to the single time step it was generated
// for, checking each step of the drift window individually. The step
// number is what the replay guard claims.
func (s *Service) matchTOTP(code, secret string, at time.Time) (int64, bool) {
	period := time.Duration(s.config.Period) * time.Second
	for offset := -s.config.Skew; offset <= s.config.Skew; offset++ {
		candidate := at.Add(time.Duration(offset) * period)
		ok, err := totp.ValidateCustom(code, secret, candidate, totp.ValidateOpts{
			Period:    uint(s.config.Period),
			Skew:      0,
			Digits:    s.digits(),
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && ok {
			return candidate.Unix() / int64(s.config.Period), true
		}
	}
	return 0, false
}

func (s *Service) digits() otp.Digits {
	if s.config.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}
