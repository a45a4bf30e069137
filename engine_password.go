package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/itrimble/securewatch-auth/internal/random"
	"github.com/itrimble/securewatch-auth/ratelimit"
)

const resetTokenBytes = 32

// RequestPasswordReset issues a single-use reset token for the account
// behind email. The response is uniform: unknown emails return an empty
// token with no error, so the endpoint cannot confirm whether an address
// is registered. The raw token is returned once for the mail delivery
// layer; only its hash is stored.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrValidation
	}

	decision, err := e.limiter.Hit(ctx, ratelimit.Key{
		Class: ratelimit.ClassPasswordReset,
		IP:    clientIPFromContext(ctx),
		Email: email,
	})
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		e.metrics.RateLimited(string(ratelimit.ClassPasswordReset))
		return "", ErrRateLimited
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", err
	}

	rawToken, err := random.Token(resetTokenBytes)
	if err != nil {
		return "", err
	}
	if err := e.challenges.SaveReset(ctx, rawToken, user.ID, e.config.ResetTTL); err != nil {
		return "", err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordReset, UserID: user.ID, Success: true,
		Metadata: map[string]string{"stage": "requested"}})
	return rawToken, nil
}

// ConfirmPasswordReset redeems a reset token and installs the new
// password. The token is consumed atomically, every live session is
// revoked, and the lockout counter is cleared so the owner can sign in
// immediately.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return ErrValidation
	}
	if err := e.hasher.CheckPolicy(newPassword); err != nil {
		return err
	}

	userID, err := e.challenges.ConsumeReset(ctx, rawToken)
	if err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	// A reset usually means the old credential is suspect.
	if _, err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := e.lockout.Reset(ctx, userID); err != nil {
		return err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordReset, UserID: userID, Success: true,
		Metadata: map[string]string{"stage": "confirmed"}})
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// verifying the current one. All sessions are revoked; the caller must
// log in again with the new credential.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := e.hasher.CheckPolicy(newPassword); err != nil {
		return err
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if _, err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordReset, UserID: userID, Success: true,
		Metadata: map[string]string{"stage": "changed"}})
	return nil
}
