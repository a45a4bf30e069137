package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/itrimble/securewatch-auth/mfa"
)

var _ mfa.MethodStore = (*Store)(nil)

func (s *Store) GetMethod(ctx context.Context, userID, methodType string) (*mfa.Method, error) {
	var (
		m        mfa.Method
		rawCodes []byte
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, type, secret_encrypted, backup_codes, verified, is_primary, last_used_at, created_at
		from mfa_methods
		where user_id = $1 and type = $2
	`, userID, methodType).Scan(&m.ID, &m.UserID, &m.Type, &m.SecretEncrypted,
		&rawCodes, &m.Verified, &m.Primary, &lastUsed, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mfa.ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	if len(rawCodes) > 0 {
		if err := json.Unmarshal(rawCodes, &m.BackupCodeHashes); err != nil {
			return nil, err
		}
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		m.LastUsedAt = &t
	}
	return &m, nil
}

func (s *Store) CreateMethod(ctx context.Context, m *mfa.Method) error {
	codes, err := json.Marshal(m.BackupCodeHashes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into mfa_methods (id, user_id, type, secret_encrypted, backup_codes, verified, is_primary, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.UserID, m.Type, m.SecretEncrypted, codes, m.Verified, m.Primary, m.CreatedAt)
	return err
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, methodID string, hashes []string) error {
	codes, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update mfa_methods set backup_codes = $2 where id = $1
	`, methodID, codes)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return mfa.ErrNotConfigured
	}
	return nil
}

func (s *Store) TouchLastUsed(ctx context.Context, methodID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update mfa_methods set last_used_at = $2 where id = $1
	`, methodID, at)
	return err
}

func (s *Store) DeleteMethodsForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from mfa_methods where user_id = $1`, userID)
	return err
}
