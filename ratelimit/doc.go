// Package ratelimit throttles requests per route class using fixed-window
// Redis counters.
//
// Each class (login, registration, password reset, MFA verification, generic
// API) carries its own window length and threshold. Counter keys fold in the
// caller's network identity and, where available, the submitted email or the
// resolved user id, so an abusive IP spraying many accounts and a single
// account attacked from many IPs are both tracked.
//
// The limiter fails open: if Redis is unreachable the request is allowed and
// the decision is flagged, trading strictness for availability. Callers that
// need to know should inspect [Decision.FailedOpen] and alert on it; an
// unreachable counter store silently disables throttling until it recovers.
package ratelimit
