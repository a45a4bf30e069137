// Package token mints and validates the signed session assertions of the
// platform: short-lived access tokens and rotating refresh tokens, both
// Ed25519-signed JWTs. The refresh side is stateful: one Redis record per
// (user, session) pair holds the hash of the only refresh token that may
// rotate next. Rotation is a single Lua script so that two concurrent
// attempts with the same token can never both succeed.
//
// Presenting an already-rotated refresh token deletes the whole session
// slot, signing the session out everywhere. Reuse is treated as theft, so
// the losing side of a benign concurrent refresh (two clients holding the
// same token) ends the session too; clients sharing a session must
// serialize their refreshes.
//
// Access-token revocation is a Redis blacklist keyed by token id (jti) whose
// TTL equals the token's remaining lifetime, so entries never outlive the
// tokens they block.
package token
