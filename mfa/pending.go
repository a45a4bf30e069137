package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "mfa:pending:"

// pendingRecord is the staged enrollment: everything needed to promote to a
// Method row once the user proves possession. The secret is already sealed
// and the backup codes already hashed; nothing recoverable rests here.
type pendingRecord struct {
	Type            string   `json:"type"`
	SecretEncrypted []byte   `json:"secret"`
	CodeHashes      []string `json:"code_hashes"`
	CreatedAt       int64    `json:"created_at"`
}

type pendingStore struct {
	redis redis.UniversalClient
}

func (s *pendingStore) key(userID string) string {
	return pendingKeyPrefix + userID
}

func (s *pendingStore) Save(ctx context.Context, userID string, rec *pendingRecord, ttl time.Duration) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *pendingStore) Get(ctx context.Context, userID string) (*pendingRecord, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoPendingSetup
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec pendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrNoPendingSetup
	}
	return &rec, nil
}

func (s *pendingStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
