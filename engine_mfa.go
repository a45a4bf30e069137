package authcore

import (
	"context"

	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/rbac"
)

// BeginMFASetup stages TOTP enrollment for the user and returns the
// secret, otpauth URL, and backup codes exactly once. Nothing becomes
// authoritative until [Engine.CompleteMFASetup] proves possession of the
// secret; the staged record expires on its own.
func (e *Engine) BeginMFASetup(ctx context.Context, userID string) (*mfa.Enrollment, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	enrollment, err := e.mfa.BeginSetup(ctx, userID, user.Email)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditMFASetup, UserID: userID, Success: true,
		Metadata: map[string]string{"stage": "begin"}})
	return enrollment, nil
}

// CompleteMFASetup verifies the first TOTP code against the staged secret
// and promotes it to a verified method. A wrong code leaves the staged
// setup untouched for a retry.
func (e *Engine) CompleteMFASetup(ctx context.Context, userID, code string) error {
	if err := e.mfa.CompleteSetup(ctx, userID, code); err != nil {
		e.emitAudit(ctx, AuditEvent{EventType: AuditMFASetup, UserID: userID, Error: errString(err)})
		return err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditMFASetup, UserID: userID, Success: true,
		Metadata: map[string]string{"stage": "complete"}})
	return nil
}

// DisableMFA removes every MFA method for the user. Idempotent.
func (e *Engine) DisableMFA(ctx context.Context, userID string) error {
	if err := e.mfa.Disable(ctx, userID); err != nil {
		return err
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditMFADisable, UserID: userID, Success: true})
	return nil
}

// RegenerateBackupCodes replaces the user's backup codes after a fresh
// TOTP verification. The new raw codes are returned exactly once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	codes, err := e.mfa.RegenerateBackupCodes(ctx, userID, totpCode)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditBackupRegenerate, UserID: userID, Success: true})
	return codes, nil
}

// MFAEnabled reports whether the user has a verified method.
func (e *Engine) MFAEnabled(ctx context.Context, userID string) (bool, error) {
	return e.mfa.Enabled(ctx, userID)
}

// RBAC exposes the role/permission resolver for management surfaces
// (role CRUD, assignment endpoints).
func (e *Engine) RBAC() *rbac.Resolver {
	return e.rbac
}
