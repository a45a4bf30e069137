package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	verificationKeyPrefix = "verify:email:"
	resetKeyPrefix        = "reset:password:"
)

// challengeStore holds single-use opaque tokens for email verification and
// password reset. Only the SHA-256 of a token is stored; consumption is an
// atomic GETDEL so a token can never be redeemed twice, even by racing
// requests.
type challengeStore struct {
	redis redis.UniversalClient
}

func newChallengeStore(client redis.UniversalClient) *challengeStore {
	return &challengeStore{redis: client}
}

func challengeKey(prefix, rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return prefix + hex.EncodeToString(sum[:])
}

func (s *challengeStore) save(ctx context.Context, prefix, rawToken, userID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, challengeKey(prefix, rawToken), userID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// consume redeems a token and deletes it in the same Redis operation.
// Returns the user id the token was issued for, or redis.Nil mapped to a
// not-found error by the caller.
func (s *challengeStore) consume(ctx context.Context, prefix, rawToken string) (string, error) {
	userID, err := s.redis.GetDel(ctx, challengeKey(prefix, rawToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return userID, nil
}

func (s *challengeStore) SaveVerification(ctx context.Context, rawToken, userID string, ttl time.Duration) error {
	return s.save(ctx, verificationKeyPrefix, rawToken, userID, ttl)
}

func (s *challengeStore) ConsumeVerification(ctx context.Context, rawToken string) (string, error) {
	userID, err := s.consume(ctx, verificationKeyPrefix, rawToken)
	if errors.Is(err, redis.Nil) {
		return "", ErrVerificationInvalid
	}
	return userID, err
}

func (s *challengeStore) SaveReset(ctx context.Context, rawToken, userID string, ttl time.Duration) error {
	return s.save(ctx, resetKeyPrefix, rawToken, userID, ttl)
}

func (s *challengeStore) ConsumeReset(ctx context.Context, rawToken string) (string, error) {
	userID, err := s.consume(ctx, resetKeyPrefix, rawToken)
	if errors.Is(err, redis.Nil) {
		return "", ErrResetTokenInvalid
	}
	return userID, err
}
