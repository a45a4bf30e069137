package mfa

import "context"

// WebAuthn enrollment and verification are not available. The entry points
// exist so transports can route the method and surface a tagged
// ErrNotImplemented instead of matching on message text.

// BeginWebAuthnSetup always returns ErrNotImplemented.
func (s *Service) BeginWebAuthnSetup(ctx context.Context, userID string) error {
	return ErrNotImplemented
}

// VerifyWebAuthn always returns ErrNotImplemented.
func (s *Service) VerifyWebAuthn(ctx context.Context, userID string, assertion []byte) error {
	return ErrNotImplemented
}
