package authcore

import (
	"context"
	"time"

	"github.com/itrimble/securewatch-auth/internal/limiters"
	"github.com/itrimble/securewatch-auth/metrics"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/password"
	"github.com/itrimble/securewatch-auth/ratelimit"
	"github.com/itrimble/securewatch-auth/rbac"
	"github.com/itrimble/securewatch-auth/token"
)

// Engine composes the credential guard, MFA subsystem, RBAC resolver,
// token issuer, and rate limiter into the platform's auth flows. Engines
// are stateless per request and safe for concurrent use.
type Engine struct {
	config Config

	users      UserStore
	rbac       *rbac.Resolver
	mfa        *mfa.Service
	hasher     *password.Hasher
	tokens     *token.Manager
	sessions   *token.Store
	limiter    *ratelimit.Limiter
	lockout    *limiters.LockoutLimiter
	challenges *challengeStore
	mfaLogin   *mfaLoginStore
	audit      *auditDispatcher
	metrics    *metrics.Metrics
}

// Close flushes the audit buffer and stops the dispatcher goroutine.
func (e *Engine) Close() {
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	event.Timestamp = time.Now().UTC()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
