package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/itrimble/securewatch-auth/internal/random"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/ratelimit"
	"github.com/itrimble/securewatch-auth/token"
)

// LoginInput carries the credentials submitted to [Engine.Login].
type LoginInput struct {
	Email    string
	Password string
}

// Login runs the full password step of authentication: rate limit, account
// lookup, lockout check, password verification, then either a token pair
// or an MFA challenge when the account has a verified second factor.
//
// Unknown emails and wrong passwords both return [ErrInvalidCredentials]
// so responses never reveal whether an address is registered. The lockout
// check runs before the password comparison; a locked account gets
// [ErrAccountLocked] regardless of the submitted password.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if in.Email == "" || in.Password == "" {
		return nil, ErrValidation
	}

	ip := clientIPFromContext(ctx)
	rateKey := ratelimit.Key{Class: ratelimit.ClassLogin, IP: ip, Email: in.Email}

	decision, err := e.limiter.Hit(ctx, rateKey)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		e.metrics.Login("rate_limited")
		e.metrics.RateLimited(string(ratelimit.ClassLogin))
		return nil, ErrRateLimited
	}

	user, err := e.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.Login("invalid_credentials")
			e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, Error: errString(ErrInvalidCredentials)})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	locked, err := e.lockout.IsLocked(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		e.metrics.Login("locked")
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Error: errString(ErrAccountLocked)})
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil || !ok {
		nowLocked, recordErr := e.lockout.RecordFailure(ctx, user.ID)
		if recordErr != nil {
			return nil, recordErr
		}
		if nowLocked {
			e.metrics.Lockout()
			e.emitAudit(ctx, AuditEvent{EventType: AuditLockout, UserID: user.ID})
		}
		e.metrics.Login("invalid_credentials")
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Error: errString(ErrInvalidCredentials)})
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		e.metrics.Login("disabled")
		return nil, ErrAccountDisabled
	}
	if !user.EmailVerified {
		e.metrics.Login("unverified")
		return nil, ErrAccountUnverified
	}

	if err := e.lockout.Reset(ctx, user.ID); err != nil {
		return nil, err
	}
	if e.limiter.ShouldForgive(ratelimit.ClassLogin, true) {
		_ = e.limiter.Forgive(ctx, rateKey)
	}

	mfaEnabled, err := e.mfa.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if mfaEnabled {
		challengeID := random.ChallengeID()
		challenge := &mfaLoginChallenge{
			UserID:         user.ID,
			OrganizationID: user.OrganizationID,
			Device:         deviceFromContext(ctx),
			IP:             ip,
		}
		if err := e.mfaLogin.Save(ctx, challengeID, challenge, e.config.ChallengeTTL); err != nil {
			return nil, err
		}
		e.metrics.Login("mfa_pending")
		e.emitAudit(ctx, AuditEvent{EventType: AuditLoginMFAPending, UserID: user.ID, Success: true})
		return &LoginResult{MFARequired: true, ChallengeID: challengeID, UserID: user.ID, OrganizationID: user.OrganizationID}, nil
	}

	result, err := e.issueSession(ctx, user.ID, user.OrganizationID)
	if err != nil {
		return nil, err
	}
	e.metrics.Login("success")
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogin,
		UserID:    user.ID,
		SessionID: result.SessionID,
		Success:   true,
	})
	return result, nil
}

// CompleteMFALogin finishes a login that stopped at the second factor.
// The challenge is consumed only after the code verifies, and consumption
// is atomic: of two racing completions exactly one receives tokens.
//
// Code verification errors come from the mfa package unchanged
// ([mfa.ErrCodeInvalid], [mfa.ErrAttemptsExceeded]); a missing, expired,
// or already consumed challenge is [ErrMFAChallengeInvalid].
func (e *Engine) CompleteMFALogin(ctx context.Context, challengeID, code, methodType string) (*LoginResult, error) {
	if challengeID == "" || code == "" {
		return nil, ErrValidation
	}
	if methodType == "" {
		methodType = mfa.TypeTOTP
	}

	challenge, err := e.mfaLogin.Peek(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	decision, err := e.limiter.Hit(ctx, ratelimit.Key{
		Class:  ratelimit.ClassMFAVerify,
		IP:     clientIPFromContext(ctx),
		UserID: challenge.UserID,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		e.metrics.RateLimited(string(ratelimit.ClassMFAVerify))
		return nil, ErrRateLimited
	}

	if err := e.mfa.Verify(ctx, challenge.UserID, code, methodType); err != nil {
		e.metrics.MFAVerification("invalid")
		e.emitAudit(ctx, AuditEvent{EventType: AuditMFAVerify, UserID: challenge.UserID, Error: errString(err)})
		return nil, err
	}

	// The winner of a racing pair consumes the challenge here; the loser
	// finds it gone.
	challenge, err = e.mfaLogin.Consume(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	user, err := e.users.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	if e.limiter.ShouldForgive(ratelimit.ClassMFAVerify, true) {
		_ = e.limiter.Forgive(ctx, ratelimit.Key{
			Class:  ratelimit.ClassMFAVerify,
			IP:     clientIPFromContext(ctx),
			UserID: challenge.UserID,
		})
	}

	result, err := e.issueSession(ctx, user.ID, user.OrganizationID)
	if err != nil {
		return nil, err
	}
	e.metrics.MFAVerification("success")
	e.metrics.Login("success")
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditMFAVerify,
		UserID:    user.ID,
		SessionID: result.SessionID,
		Success:   true,
	})
	return result, nil
}

// issueSession resolves the principal's roles and effective permissions,
// signs a token pair, and records the refresh slot.
func (e *Engine) issueSession(ctx context.Context, userID, organizationID string) (*LoginResult, error) {
	roles, err := e.rbac.GetRoles(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}

	perms, err := e.rbac.GetEffectivePermissions(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}

	sessionID := random.SessionID()
	pair, err := e.tokens.SignPair(token.PairInput{
		UserID:         userID,
		OrganizationID: organizationID,
		Roles:          roles,
		Permissions:    perms,
		SessionID:      sessionID,
		Device:         deviceFromContext(ctx),
		IP:             clientIPFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}

	record := token.Record{
		SessionID: sessionID,
		Hash:      token.HashToken(pair.RefreshToken),
		Device:    deviceFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		IssuedAt:  time.Now().Unix(),
	}
	if err := e.sessions.SaveRefresh(ctx, userID, sessionID, record, e.config.Token.RefreshTTL); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        sessionID,
		UserID:           userID,
		OrganizationID:   organizationID,
	}, nil
}
