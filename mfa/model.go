package mfa

import (
	"context"
	"time"
)

// Method type identifiers. Only TOTP is currently a supported factor;
// WebAuthn exists as a reserved type for the stubbed entry points.
const (
	TypeTOTP     = "totp"
	TypeBackup   = "backup"
	TypeWebAuthn = "webauthn"
)

// Method is a verified per-user MFA method as persisted in the relational
// store. A Method row exists only after setup verification succeeded.
type Method struct {
	ID               string
	UserID           string
	Type             string
	SecretEncrypted  []byte
	BackupCodeHashes []string
	Verified         bool
	Primary          bool
	LastUsedAt       *time.Time
	CreatedAt        time.Time
}

// MethodStore is the relational persistence contract for verified methods.
// Implementations return ErrNotConfigured when no method exists.
type MethodStore interface {
	GetMethod(ctx context.Context, userID, methodType string) (*Method, error)
	CreateMethod(ctx context.Context, m *Method) error
	ReplaceBackupCodes(ctx context.Context, methodID string, hashes []string) error
	TouchLastUsed(ctx context.Context, methodID string, at time.Time) error
	DeleteMethodsForUser(ctx context.Context, userID string) error
}

// Enrollment is returned by BeginSetup exactly once. The secret and backup
// codes are not retrievable afterwards.
type Enrollment struct {
	Secret      string   // base32 TOTP secret
	URL         string   // otpauth:// enrollment URL for authenticator apps
	BackupCodes []string // raw single-use recovery codes
}
