package authcore

import "time"

// SecurityReport is a point-in-time summary of the engine's hardening
// posture, for operator dashboards and deploy-time assertions.
type SecurityReport struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Argon2           PasswordConfigReport

	MFAAvailable     bool
	BackupCodeCount  int
	LockoutThreshold int
	LockoutDuration  time.Duration

	RateLimitClasses int
	AuditEnabled     bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm: "EdDSA",
		AccessTTL:        e.config.Token.AccessTTL,
		RefreshTTL:       e.config.Token.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		MFAAvailable:     len(e.config.MFA.EncryptionKey) > 0,
		BackupCodeCount:  e.config.MFA.BackupCodeCount,
		LockoutThreshold: e.config.Lockout.Threshold,
		LockoutDuration:  e.config.Lockout.LockDuration,
		RateLimitClasses: len(e.config.RateLimit),
		AuditEnabled:     e.config.Audit.Enabled,
	}
}
