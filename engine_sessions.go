package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/itrimble/securewatch-auth/ratelimit"
	"github.com/itrimble/securewatch-auth/rbac"
	"github.com/itrimble/securewatch-auth/token"
)

// Refresh exchanges a live refresh token for a new access/refresh pair.
// Rotation is single-use and single-winner: the stored hash is swapped
// atomically, so a concurrent duplicate and any later replay of the old
// token both fail. A replayed token additionally kills the session slot.
//
// Roles and permissions are re-resolved on every rotation so revoked roles
// drop out of circulation within one access-token lifetime.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, ErrValidation
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metrics.Refresh("invalid")
		return nil, ErrTokenInvalid
	}

	user, err := e.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		e.metrics.Refresh("invalid")
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.Active {
		e.metrics.Refresh("disabled")
		return nil, ErrAccountDisabled
	}

	roles, err := e.rbac.GetRoles(ctx, user.ID, user.OrganizationID)
	if err != nil {
		return nil, err
	}
	perms, err := e.rbac.GetEffectivePermissions(ctx, user.ID, user.OrganizationID)
	if err != nil {
		return nil, err
	}

	pair, err := e.tokens.SignPair(token.PairInput{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Roles:          roles,
		Permissions:    perms,
		SessionID:      claims.SessionID,
		Device:         claims.Device,
		IP:             clientIPFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}

	err = e.sessions.Rotate(ctx,
		user.ID, claims.SessionID,
		token.HashToken(refreshToken),
		token.HashToken(pair.RefreshToken),
		e.config.Token.RefreshTTL,
	)
	if err != nil {
		e.metrics.Refresh("rejected")
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditRefresh,
			UserID:    user.ID,
			SessionID: claims.SessionID,
			Error:     errString(err),
		})
		if errors.Is(err, token.ErrRefreshNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	e.metrics.Refresh("success")
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRefresh,
		UserID:    user.ID,
		SessionID: claims.SessionID,
		Success:   true,
	})
	return &LoginResult{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        claims.SessionID,
		UserID:           user.ID,
		OrganizationID:   user.OrganizationID,
	}, nil
}

// Logout ends the session behind an access token: the refresh slot is
// deleted and the access token's jti is blacklisted for its remaining
// lifetime, so blacklist entries never outlive the tokens they block.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return ErrTokenInvalid
	}

	if err := e.sessions.DeleteRefresh(ctx, claims.UserID, claims.SessionID); err != nil {
		return err
	}
	if err := e.blacklistAccess(ctx, claims); err != nil {
		return err
	}

	e.metrics.Revocation()
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogout,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Success:   true,
	})
	return nil
}

// RevokeAllForUser deletes every refresh slot for the user. When the
// caller's own access token is supplied it is blacklisted too; other
// outstanding access tokens die at their natural short expiry. Returns the
// number of sessions removed.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, presentedAccessToken string) (int, error) {
	if presentedAccessToken != "" {
		if claims, err := e.tokens.ParseAccess(presentedAccessToken); err == nil {
			if err := e.blacklistAccess(ctx, claims); err != nil {
				return 0, err
			}
		}
	}

	removed, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	e.metrics.Revocation()
	e.emitAudit(ctx, AuditEvent{EventType: AuditRevokeAll, UserID: userID, Success: true})
	return removed, nil
}

// RevokeSession deletes one refresh slot, for per-device sign-out from a
// session list.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := e.sessions.DeleteRefresh(ctx, userID, sessionID); err != nil {
		return err
	}
	e.metrics.Revocation()
	e.emitAudit(ctx, AuditEvent{EventType: AuditLogout, UserID: userID, SessionID: sessionID, Success: true})
	return nil
}

// ListSessions returns the user's live sessions. currentSessionID, when
// known, marks the caller's own entry.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]Session, error) {
	records, err := e.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(records))
	for _, rec := range records {
		s := Session{
			SessionID: rec.SessionID,
			Device:    rec.Device,
			IP:        rec.IP,
			IssuedAt:  time.Unix(rec.IssuedAt, 0),
			Current:   rec.SessionID == currentSessionID,
		}
		if rec.RotatedAt > 0 {
			s.RotatedAt = time.Unix(rec.RotatedAt, 0)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// VerifyAccess validates an access token's signature, expiry, and
// revocation state. The three failure modes report distinctly:
// [ErrTokenInvalid], [ErrTokenExpired], [ErrTokenRevoked].
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	revoked, err := e.sessions.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return &AuthResult{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		SessionID:      claims.SessionID,
		Roles:          claims.Roles,
		Permissions:    claims.Permissions,
	}, nil
}

// Authorize verifies the access token and then checks that the embedded
// permissions cover every required `resource.action`, honoring the
// `resource.*` and global `*` wildcards. AND semantics: one uncovered
// requirement fails the whole check with [ErrPermissionDenied].
func (e *Engine) Authorize(ctx context.Context, accessToken string, required ...string) (*AuthResult, error) {
	result, err := e.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if !rbac.CoversAll(result.Permissions, required) {
		return nil, ErrPermissionDenied
	}
	return result, nil
}

// HitAPILimit counts one authenticated API request against the generic
// class. Exposed for transports that enforce the API budget outside the
// auth flows.
func (e *Engine) HitAPILimit(ctx context.Context, userID string) error {
	decision, err := e.limiter.Hit(ctx, ratelimit.Key{
		Class:  ratelimit.ClassAPI,
		IP:     clientIPFromContext(ctx),
		UserID: userID,
	})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		e.metrics.RateLimited(string(ratelimit.ClassAPI))
		return ErrRateLimited
	}
	return nil
}

func (e *Engine) blacklistAccess(ctx context.Context, claims *token.AccessClaims) error {
	if claims.ExpiresAt == nil {
		return nil
	}
	return e.sessions.Blacklist(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}
