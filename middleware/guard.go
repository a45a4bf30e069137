// Package middleware exposes HTTP adapters for the auth engine: a bearer
// guard that validates access tokens and a permission guard for
// per-route requirements.
//
// This package translates HTTP semantics into engine calls; it never
// parses tokens or makes authorization decisions itself.
package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	authcore "github.com/itrimble/securewatch-auth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the verdict injected by [Guard].
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token. On success
// the engine's verdict is injected into the request context, along with
// the client IP and User-Agent for downstream engine calls.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithRequestContext(r.Context(), r)
			res, err := engine.VerifyAccess(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if err := engine.HitAPILimit(ctx, res.UserID); err != nil {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermissions wraps a handler behind [Guard] with a permission
// check: every listed `resource.action` must be covered by the token's
// permissions, wildcards included.
func RequirePermissions(engine *authcore.Engine, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithRequestContext(r.Context(), r)
			res, err := engine.Authorize(ctx, token, required...)
			if err != nil {
				if errors.Is(err, authcore.ErrPermissionDenied) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRequestContext attaches the request's client IP and User-Agent to
// ctx for rate limiting, session records, and audit events.
func WithRequestContext(ctx context.Context, r *http.Request) context.Context {
	ctx = authcore.WithClientIP(ctx, clientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = authcore.WithDevice(ctx, ua)
	}
	return ctx
}

func clientIP(r *http.Request) string {
	// First hop of X-Forwarded-For when present, else the socket peer.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
