// Package authcore is the authentication and session-lifecycle core of the
// SecureWatch platform: credential verification with temporary lockout,
// TOTP/backup-code multi-factor auth, role-based access control, signed
// access/refresh token pairs with rotation and revocation, and per-route
// request throttling.
//
// The [Engine] composes the subsystems into the login, refresh, logout, and
// authorization flows. All authoritative state lives in Postgres and Redis;
// engines are stateless per request and safe for concurrent use, so any
// number of instances can serve the same stores.
//
// Construction goes through the [Builder]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithUserStore(users).
//		WithRBACStore(roles).
//		WithMFAStore(methods).
//		Build()
package authcore
