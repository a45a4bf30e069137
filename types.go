package authcore

import (
	"context"
	"time"
)

// User is the identity record owned by the relational store. The failed
// attempt counter and lock state live in Redis and are not mirrored here.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	PasswordHash   string

	// EmailVerified is set by the verification flow or propagated as an
	// explicit boolean from a federated identity provider. Never assumed
	// true.
	EmailVerified bool
	Active        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStore is the relational persistence contract for identity records.
// Implementations return [ErrUserNotFound] for missing users and
// [ErrEmailTaken] for duplicate email addresses.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// LoginResult is returned by [Engine.Login] and [Engine.CompleteMFALogin].
// When MFARequired is set only ChallengeID is populated; the caller must
// finish the login with the second factor before any tokens exist.
type LoginResult struct {
	MFARequired bool
	ChallengeID string

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string

	UserID         string
	OrganizationID string
}

// Session describes one live refresh-token slot for session listing.
type Session struct {
	SessionID string
	Device    string
	IP        string
	IssuedAt  time.Time
	RotatedAt time.Time
	Current   bool
}

// AuthResult is the verdict of [Engine.VerifyAccess]: the authenticated
// principal and the roles/permissions embedded in the access token.
type AuthResult struct {
	UserID         string
	OrganizationID string
	SessionID      string
	Roles          []string
	Permissions    []string
}
