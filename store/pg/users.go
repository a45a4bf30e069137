package pg

import (
	"context"
	"database/sql"
	"errors"

	authcore "github.com/itrimble/securewatch-auth"
)

var _ authcore.UserStore = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, u *authcore.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, organization_id, email, password_hash, email_verified, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.OrganizationID, u.Email, u.PasswordHash, u.EmailVerified, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authcore.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authcore.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, organization_id, email, password_hash, email_verified, active, created_at, updated_at
		from users
		where email = $1
	`, email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*authcore.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, organization_id, email, password_hash, email_verified, active, created_at, updated_at
		from users
		where id = $1
	`, id))
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUserField(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, userID, passwordHash)
}

func (s *Store) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	return s.updateUserField(ctx, `
		update users set email_verified = $2, updated_at = now() where id = $1
	`, userID, verified)
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return s.updateUserField(ctx, `
		update users set active = $2, updated_at = now() where id = $1
	`, userID, active)
}

func (s *Store) scanUser(row *sql.Row) (*authcore.User, error) {
	var u authcore.User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash,
		&u.EmailVerified, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) updateUserField(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
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
