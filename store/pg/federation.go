package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	authcore "github.com/itrimble/securewatch-auth"
)

// OAuthAccount links a local user to a federated identity provider.
// EmailVerified is the provider's assertion, stored as an explicit boolean
// and never assumed true.
type OAuthAccount struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	CreatedAt      time.Time
}

// APIKey is a long-lived machine credential. Only the hash of the key is
// stored.
type APIKey struct {
	ID         string
	UserID     string
	Name       string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

func (s *Store) LinkOAuthAccount(ctx context.Context, acc *OAuthAccount) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_accounts (id, user_id, provider, provider_user_id, email, email_verified, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, acc.ID, acc.UserID, acc.Provider, acc.ProviderUserID, acc.Email, acc.EmailVerified, acc.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authcore.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *Store) GetOAuthAccount(ctx context.Context, provider, providerUserID string) (*OAuthAccount, error) {
	var acc OAuthAccount
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, provider, provider_user_id, email, email_verified, created_at
		from oauth_accounts
		where provider = $1 and provider_user_id = $2
	`, provider, providerUserID).Scan(&acc.ID, &acc.UserID, &acc.Provider,
		&acc.ProviderUserID, &acc.Email, &acc.EmailVerified, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_keys (id, user_id, name, key_hash, created_at)
		values ($1, $2, $3, $4, $5)
	`, key.ID, key.UserID, key.Name, key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash resolves an unrevoked key by its hash and stamps its
// last use.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var (
		key      APIKey
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update api_keys set last_used_at = now()
		where key_hash = $1 and revoked_at is null
		returning id, user_id, name, key_hash, created_at, last_used_at
	`, keyHash).Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}
	return &key, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys set revoked_at = now() where id = $1 and revoked_at is null
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
