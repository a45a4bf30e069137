package token

import "errors"

var (
	// ErrTokenInvalid is returned for tokens failing signature, issuer,
	// audience, or claim-shape checks.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for access tokens found on the blacklist.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshNotFound is returned when no live record matches the
	// presented refresh token. A rotated-away token reports the same error
	// as a missing session; this is the replay guard.
	ErrRefreshNotFound = errors.New("refresh token not found")
	// ErrStoreUnavailable is returned when the Redis backend cannot be
	// reached. Callers must treat this as fatal to the request.
	ErrStoreUnavailable = errors.New("token store unavailable")
)
