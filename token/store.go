package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshKeyPrefix   = "refresh:token:"
	refreshIndexPrefix = "refresh:index:"
	blacklistKeyPrefix = "blacklist:token:"
)

// Record is the persisted state of one (user, session) refresh slot. Hash is
// the SHA-256 of the currently valid refresh token; a rotation replaces it.
type Record struct {
	SessionID string `json:"-"`
	Hash      string `json:"hash"`
	Device    string `json:"device,omitempty"`
	IP        string `json:"ip,omitempty"`
	IssuedAt  int64  `json:"issued_at"`
	RotatedAt int64  `json:"rotated_at,omitempty"`
}

// The rotate script is the only writer that may replace a refresh hash.
// Running it as one script closes the read-then-delete race: of two
// concurrent rotations with the same token, exactly one sees a matching
// hash. A mismatching hash means the presented token was already consumed;
// the slot is deleted outright so a stolen-then-replayed token also kills
// the live session.
//
// A successful rotation also re-adds the session to the per-user index and
// pushes the index TTL out to the new record TTL. Otherwise a session
// rotated past the index's original expiry would keep refreshing while
// listing and revoke-all could no longer see it.
const rotateScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
if rec.hash ~= ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[4])
  return -1
end
rec.hash = ARGV[2]
rec.rotated_at = tonumber(ARGV[3])
redis.call("SET", KEYS[1], cjson.encode(rec), "PX", tonumber(ARGV[5]))
redis.call("SADD", KEYS[2], ARGV[4])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[5]) then
  redis.call("PEXPIRE", KEYS[2], tonumber(ARGV[5]))
end
return 1
`

var rotateLua = redis.NewScript(rotateScript)

// The save script keeps the per-user index alive at least as long as its
// longest-lived member. A plain EXPIRE would let a short-lived session
// shorten the index TTL under longer sessions saved earlier.
const saveScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[3]))
redis.call("SADD", KEYS[2], ARGV[2])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[3]) then
  redis.call("PEXPIRE", KEYS[2], tonumber(ARGV[3]))
end
return 1
`

var saveLua = redis.NewScript(saveScript)

const purgeUserScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local deleted = 0
for _, sid in ipairs(ids) do
  deleted = deleted + redis.call("DEL", ARGV[1] .. sid)
end
redis.call("DEL", KEYS[1])
return deleted
`

var purgeUserLua = redis.NewScript(purgeUserScript)

// Store keeps refresh-token records and the access-token blacklist in Redis.
// All state is external; Store carries no per-request state of its own.
type Store struct {
	redis redis.UniversalClient
}

// NewStore returns a Store backed by the given Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

// HashToken returns the hex SHA-256 of a refresh token string. Raw token
// values are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func refreshKey(userID, sessionID string) string {
	return refreshKeyPrefix + userID + ":" + sessionID
}

func refreshIndexKey(userID string) string {
	return refreshIndexPrefix + userID
}

func blacklistKey(jti string) string {
	return blacklistKeyPrefix + jti
}

// SaveRefresh writes the record for a new session and indexes it for
// per-user enumeration. The index key's TTL only ever grows, so it cannot
// expire before any live member.
func (s *Store) SaveRefresh(ctx context.Context, userID, sessionID string, rec Record, ttl time.Duration) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = saveLua.Run(ctx, s.redis,
		[]string{refreshKey(userID, sessionID), refreshIndexKey(userID)},
		encoded, sessionID, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetRefresh loads the record for a session. Missing records return
// ErrRefreshNotFound.
func (s *Store) GetRefresh(ctx context.Context, userID, sessionID string) (*Record, error) {
	data, err := s.redis.Get(ctx, refreshKey(userID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRefreshNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrRefreshNotFound
	}
	rec.SessionID = sessionID
	return &rec, nil
}

// Rotate atomically replaces the stored hash with nextHash, but only if the
// stored hash still equals providedHash. Exactly one of any set of
// concurrent callers presenting the same token succeeds; the rest get
// ErrRefreshNotFound. A hash mismatch deletes the slot entirely.
func (s *Store) Rotate(ctx context.Context, userID, sessionID, providedHash, nextHash string, ttl time.Duration) error {
	now := time.Now().Unix()
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{refreshKey(userID, sessionID), refreshIndexKey(userID)},
		providedHash, nextHash, now, sessionID, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res != 1 {
		return ErrRefreshNotFound
	}
	return nil
}

// DeleteRefresh removes one session's record. Deleting an absent record is
// not an error; logout is idempotent.
func (s *Store) DeleteRefresh(ctx context.Context, userID, sessionID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, refreshKey(userID, sessionID))
	pipe.SRem(ctx, refreshIndexKey(userID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every refresh record for the user and returns the
// number of sessions revoked. Used on password reset and "log out everywhere".
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := purgeUserLua.Run(ctx, s.redis,
		[]string{refreshIndexKey(userID)},
		refreshKeyPrefix+userID+":",
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(res), nil
}

// ListSessions returns the live refresh records for a user. Sessions whose
// record already expired are skipped; the index is lazily consistent.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]Record, error) {
	ids, err := s.redis.SMembers(ctx, refreshIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	records := make([]Record, 0, len(ids))
	for _, sid := range ids {
		rec, err := s.GetRefresh(ctx, userID, sid)
		if err != nil {
			if errors.Is(err, ErrRefreshNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Blacklist marks an access token id revoked for the given remaining
// lifetime. A non-positive TTL means the token is already expired and
// nothing needs to be stored.
func (s *Store) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether an access token id has been revoked.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
