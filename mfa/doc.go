// Package mfa implements the second-factor subsystem: TOTP enrollment and
// verification, single-use backup codes, and the pending-setup staging area.
//
// Enrollment is two-phase. BeginSetup generates a secret and backup codes and
// stages them in Redis under a short TTL; nothing touches the relational
// store until CompleteSetup proves possession of the secret with a valid
// code. Secrets are AES-256-GCM encrypted at rest and backup codes are
// one-way hashed; the raw values leave the package exactly once, in the
// enrollment response.
//
// WebAuthn is not available yet. Its entry points return ErrNotImplemented,
// which callers must surface as "not yet available" rather than as a failed
// verification.
package mfa
