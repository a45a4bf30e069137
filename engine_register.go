package authcore

import (
	"context"
	"strings"
	"time"

	"github.com/itrimble/securewatch-auth/internal/random"
	"github.com/itrimble/securewatch-auth/ratelimit"
)

const verificationTokenBytes = 32

// RegisterInput carries a new account request.
type RegisterInput struct {
	Email          string
	Password       string
	OrganizationID string
}

// RegisterResult is the created record plus the raw email-verification
// token. The token is returned exactly once, for the mail delivery layer;
// only its hash is stored.
type RegisterResult struct {
	User              *User
	VerificationToken string
}

// Register creates an unverified account. Duplicate emails return
// [ErrEmailTaken]; the password must satisfy the configured policy.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrValidation
	}

	decision, err := e.limiter.Hit(ctx, ratelimit.Key{
		Class: ratelimit.ClassRegistration,
		IP:    clientIPFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		e.metrics.RateLimited(string(ratelimit.ClassRegistration))
		return nil, ErrRateLimited
	}

	if err := e.hasher.CheckPolicy(in.Password); err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &User{
		ID:             random.EntityID(),
		OrganizationID: in.OrganizationID,
		Email:          email,
		PasswordHash:   hash,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	rawToken, err := random.Token(verificationTokenBytes)
	if err != nil {
		return nil, err
	}
	if err := e.challenges.SaveVerification(ctx, rawToken, user.ID, e.config.VerificationTTL); err != nil {
		return nil, err
	}

	e.metrics.Registration()
	e.emitAudit(ctx, AuditEvent{EventType: AuditRegister, UserID: user.ID, Success: true})
	return &RegisterResult{User: user, VerificationToken: rawToken}, nil
}

// VerifyEmail redeems a verification token and marks the account verified.
// Tokens are single-use: redemption deletes the record atomically, so a
// replayed link gets [ErrVerificationInvalid].
func (e *Engine) VerifyEmail(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return ErrValidation
	}

	userID, err := e.challenges.ConsumeVerification(ctx, rawToken)
	if err != nil {
		return err
	}

	if err := e.users.SetEmailVerified(ctx, userID, true); err != nil {
		return err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditEmailVerified, UserID: userID, Success: true})
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. Unknown emails and already verified accounts both return an
// empty token with no error, so the response cannot be used to probe for
// accounts.
func (e *Engine) ResendVerification(ctx context.Context, email string) (string, error) {
	decision, err := e.limiter.Hit(ctx, ratelimit.Key{
		Class: ratelimit.ClassRegistration,
		IP:    clientIPFromContext(ctx),
		Email: email,
	})
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		e.metrics.RateLimited(string(ratelimit.ClassRegistration))
		return "", ErrRateLimited
	}

	user, err := e.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil || user.EmailVerified {
		return "", nil
	}

	rawToken, err := random.Token(verificationTokenBytes)
	if err != nil {
		return "", err
	}
	if err := e.challenges.SaveVerification(ctx, rawToken, user.ID, e.config.VerificationTTL); err != nil {
		return "", err
	}
	return rawToken, nil
}
