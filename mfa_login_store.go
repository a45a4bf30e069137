package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const mfaLoginKeyPrefix = "mfa:login:"

// mfaLoginChallenge is the state carried between the password step and the
// second-factor step of a login. The client holds only the opaque
// challenge id.
type mfaLoginChallenge struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Device         string `json:"device,omitempty"`
	IP             string `json:"ip,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// mfaLoginStore keeps pending login challenges in Redis with a short TTL.
type mfaLoginStore struct {
	redis redis.UniversalClient
}

func newMFALoginStore(client redis.UniversalClient) *mfaLoginStore {
	return &mfaLoginStore{redis: client}
}

func mfaLoginKey(challengeID string) string {
	return mfaLoginKeyPrefix + challengeID
}

func (s *mfaLoginStore) Save(ctx context.Context, challengeID string, ch *mfaLoginChallenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, mfaLoginKey(challengeID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Peek reads a challenge without consuming it, so a failed code attempt
// leaves the challenge in place for a retry.
func (s *mfaLoginStore) Peek(ctx context.Context, challengeID string) (*mfaLoginChallenge, error) {
	data, err := s.redis.Get(ctx, mfaLoginKey(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFAChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var ch mfaLoginChallenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, ErrMFAChallengeInvalid
	}
	return &ch, nil
}

// Consume atomically redeems a challenge. Exactly one of two racing
// redemption attempts can win; the loser sees ErrMFAChallengeInvalid.
func (s *mfaLoginStore) Consume(ctx context.Context, challengeID string) (*mfaLoginChallenge, error) {
	data, err := s.redis.GetDel(ctx, mfaLoginKey(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFAChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var ch mfaLoginChallenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, ErrMFAChallengeInvalid
	}
	return &ch, nil
}
