package mfa

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/itrimble/securewatch-auth/internal/random"
)

// normalizeBackupCode strips separators and case-folds so users can type
// codes with or without the display hyphen.
func normalizeBackupCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

func (s *Service) newBackupCodes() ([]string, []string, error) {
	raw := make([]string, 0, s.config.BackupCodeCount)
	hashes := make([]string, 0, s.config.BackupCodeCount)
	for i := 0; i < s.config.BackupCodeCount; i++ {
		code, err := random.BackupCode(s.config.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		raw = append(raw, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return raw, hashes, nil
}

// consumeBackupCode finds the hash of code among hashes and, if present,
// returns the list with that single entry removed. Each code is one-time.
func consumeBackupCode(hashes []string, code string) ([]string, bool) {
	target := hashBackupCode(code)
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(target)) == 1 {
			remaining := make([]string, 0, len(hashes)-1)
			remaining = append(remaining, hashes[:i]...)
			remaining = append(remaining, hashes[i+1:]...)
			return remaining, true
		}
	}
	return hashes, false
}
