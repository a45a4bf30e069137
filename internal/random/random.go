package random

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// EntityID returns a lexicographically sortable identifier for persisted
// rows (users, roles, MFA methods).
func EntityID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// SessionID returns a random identifier for a login session. Session ids
// appear in token claims and Redis keys; they carry no entropy ordering.
func SessionID() string {
	return uuid.NewString()
}

// ChallengeID returns an identifier for short-lived challenge records
// (MFA login tickets, reset tokens, verification tokens).
func ChallengeID() string {
	return uuid.NewString()
}

// Token returns n random bytes encoded as unpadded base64url.
func Token(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid token size")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// backupCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// BackupCode returns a human-typable recovery code of the form XXXXX-XXXXX.
func BackupCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	var b strings.Builder
	b.Grow(length + 1)

	size := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		if i == length/2 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}

	return b.String(), nil
}
