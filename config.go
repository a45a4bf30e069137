package authcore

import (
	"errors"
	"time"

	"github.com/itrimble/securewatch-auth/internal/limiters"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/password"
	"github.com/itrimble/securewatch-auth/ratelimit"
	"github.com/itrimble/securewatch-auth/token"
)

// Config is the full engine configuration. Zero values are filled in by
// [DefaultConfig]; signing keys and the MFA encryption key must always be
// supplied by the caller.
type Config struct {
	Token     token.Config
	Password  password.Config
	MFA       mfa.Config
	Lockout   limiters.LockoutConfig
	RateLimit map[ratelimit.Class]ratelimit.Policy

	// AdminPriority is the role priority at or above which a principal
	// receives the global wildcard permission.
	AdminPriority int

	// VerificationTTL bounds the life of email-verification tokens.
	VerificationTTL time.Duration
	// ResetTTL bounds the life of password-reset tokens.
	ResetTTL time.Duration
	// ChallengeTTL bounds the life of pending MFA login challenges.
	ChallengeTTL time.Duration

	Audit AuditConfig
}

// AuditConfig tunes the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking callers when the
	// buffer is saturated.
	DropIfFull bool
}

// DefaultConfig returns a Config with production-leaning defaults.
// Signing keys and the MFA encryption key are left empty.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "securewatch",
			Leeway:     30 * time.Second,
		},
		Password: password.Config{
			Memory:       64 * 1024,
			Time:         3,
			Parallelism:  2,
			SaltLength:   16,
			KeyLength:    32,
			MinLength:    12,
			RequireUpper: true,
			RequireDigit: true,
		},
		MFA: mfa.Config{
			Issuer:           "SecureWatch",
			Digits:           6,
			Period:           30,
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			PendingTTL:       10 * time.Minute,
			MaxAttempts:      5,
			AttemptWindow:    15 * time.Minute,
		},
		Lockout: limiters.LockoutConfig{
			Threshold:     5,
			AttemptWindow: 15 * time.Minute,
			LockDuration:  30 * time.Minute,
		},
		RateLimit:       ratelimit.DefaultPolicies(),
		AdminPriority:   100,
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        time.Hour,
		ChallengeTTL:    5 * time.Minute,
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations that cannot produce a working engine.
func (c Config) Validate() error {
	if len(c.Token.PrivateKey) == 0 && len(c.Token.PublicKey) == 0 {
		return errors.New("authcore: token signing keys required")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("authcore: token TTLs must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("authcore: refresh TTL must exceed access TTL")
	}
	if len(c.MFA.EncryptionKey) != 32 {
		return errors.New("authcore: mfa encryption key must be 32 bytes")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("authcore: lockout threshold must be positive")
	}
	if c.VerificationTTL <= 0 || c.ResetTTL <= 0 || c.ChallengeTTL <= 0 {
		return errors.New("authcore: token store TTLs must be positive")
	}
	return nil
}
