package mfa

import "errors"

var (
	// ErrAlreadyEnabled is returned by BeginSetup when a verified method
	// already exists for the user.
	ErrAlreadyEnabled = errors.New("mfa already enabled")
	// ErrNotConfigured is returned when verification is requested for a
	// user with no verified method.
	ErrNotConfigured = errors.New("mfa not configured")
	// ErrNoPendingSetup is returned by CompleteSetup when no staged
	// enrollment exists or the staging record expired.
	ErrNoPendingSetup = errors.New("no pending mfa setup")
	// ErrCodeInvalid is returned for a TOTP or backup code that does not
	// verify. It never reveals which check failed.
	ErrCodeInvalid = errors.New("invalid mfa code")
	// ErrAttemptsExceeded is returned once the per-user verification
	// attempt budget is spent for the current window.
	ErrAttemptsExceeded = errors.New("mfa attempts exceeded")
	// ErrNotImplemented is returned by the WebAuthn stubs. Transport maps
	// it to a distinct "not yet available" outcome, never to a 4xx
	// verification failure.
	ErrNotImplemented = errors.New("mfa method not implemented")
	// ErrStoreUnavailable is returned when the Redis backend is
	// unreachable.
	ErrStoreUnavailable = errors.New("mfa store unavailable")
)
