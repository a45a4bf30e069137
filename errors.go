package authcore

import (
	"errors"

	"github.com/itrimble/securewatch-auth/token"
)

var (
	// ErrValidation indicates malformed request input.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidCredentials covers wrong email/password pairs. Returned
	// identically for unknown accounts so responses never reveal whether
	// an email is registered.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates too many consecutive failed password
	// attempts. Checked before any password comparison.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified indicates the email address has not been
	// verified yet.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAccountDisabled indicates a deactivated account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrUserNotFound indicates a missing user in contexts where the
	// caller is already authenticated and enumeration is not a concern.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken indicates a duplicate registration.
	ErrEmailTaken = errors.New("email already registered")
	// ErrRateLimited indicates the request exceeded its route-class
	// budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrMFARequired signals that password verification succeeded and a
	// second factor is now expected. The login response carries a
	// challenge id instead of tokens.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAChallengeInvalid indicates an unknown, consumed, or expired
	// login challenge.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrPermissionDenied indicates a failed permission or role check.
	ErrPermissionDenied = errors.New("permission denied")
	// Token verdicts share identity with the token package, so errors.Is
	// matches whichever layer a caller imports. ErrTokenInvalid covers
	// malformed or tampered tokens; expiry and revocation report their
	// own tags.
	ErrTokenInvalid = token.ErrTokenInvalid
	ErrTokenExpired = token.ErrTokenExpired
	ErrTokenRevoked = token.ErrTokenRevoked
	// ErrResetTokenInvalid indicates an unknown, consumed, or expired
	// password-reset token.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrVerificationInvalid indicates an unknown, consumed, or expired
	// email-verification token.
	ErrVerificationInvalid = errors.New("email verification token invalid")
	// ErrNotImplemented tags entry points that exist in the API surface
	// but have no backing implementation, such as WebAuthn. Transports
	// switch on this error, never on message text.
	ErrNotImplemented = errors.New("not implemented")
	// ErrStoreUnavailable indicates a backend outage that prevents the
	// engine from producing a verdict. Surfaces as a server error, never
	// as a silent allow.
	ErrStoreUnavailable = errors.New("backend unavailable")
)
