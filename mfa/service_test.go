package mfa

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

type fakeMethodStore struct {
	methods map[string]*Method // keyed by userID
}

func newFakeMethodStore() *fakeMethodStore {
	return &fakeMethodStore{methods: map[string]*Method{}}
}

func (f *fakeMethodStore) GetMethod(_ context.Context, userID, methodType string) (*Method, error) {
	m, ok := f.methods[userID]
	if !ok || m.Type != methodType {
		return nil, ErrNotConfigured
	}
	clone := *m
	clone.BackupCodeHashes = append([]string(nil), m.BackupCodeHashes...)
	return &clone, nil
}

func (f *fakeMethodStore) CreateMethod(_ context.Context, m *Method) error {
	f.methods[m.UserID] = m
	return nil
}

func (f *fakeMethodStore) ReplaceBackupCodes(_ context.Context, methodID string, hashes []string) error {
	for _, m := range f.methods {
		if m.ID == methodID {
			m.BackupCodeHashes = hashes
			return nil
		}
	}
	return ErrNotConfigured
}

func (f *fakeMethodStore) TouchLastUsed(_ context.Context, methodID string, at time.Time) error {
	for _, m := range f.methods {
		if m.ID == methodID {
			m.LastUsedAt = &at
			return nil
		}
	}
	return ErrNotConfigured
}

func (f *fakeMethodStore) DeleteMethodsForUser(_ context.Context, userID string) error {
	delete(f.methods, userID)
	return nil
}

func testService(t *testing.T) (*Service, *fakeMethodStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	store := newFakeMethodStore()
	svc, err := NewService(Config{
		Issuer:           "SecureWatch",
		Digits:           6,
		Period:           30,
		Skew:             1,
		BackupCodeCount:  8,
		BackupCodeLength: 10,
		PendingTTL:       10 * time.Minute,
		MaxAttempts:      3,
		AttemptWindow:    15 * time.Minute,
		EncryptionKey:    key,
	}, rdb, store)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, store, mr
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	return code
}

func enroll(t *testing.T, svc *Service, userID string) *Enrollment {
	t.Helper()
	ctx := context.Background()
	enr, err := svc.BeginSetup(ctx, userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	if err := svc.CompleteSetup(ctx, userID, currentCode(t, enr.Secret)); err != nil {
		t.Fatalf("CompleteSetup failed: %v", err)
	}
	return enr
}

func TestBeginSetupReturnsEnrollmentOnce(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	enr, err := svc.BeginSetup(ctx, "u1", "u1@example.com")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	if enr.Secret == "" {
		t.Fatal("expected raw secret in enrollment")
	}
	if !strings.HasPrefix(enr.URL, "otpauth://totp/") {
		t.Fatalf("expected otpauth url, got %s", enr.URL)
	}
	if len(enr.BackupCodes) != 8 {
		t.Fatalf("expected 8 backup codes, got %d", len(enr.BackupCodes))
	}
	for _, code := range enr.BackupCodes {
		if !strings.Contains(code, "-") {
			t.Fatalf("expected display hyphen in backup code %q", code)
		}
	}

	enabled, err := svc.Enabled(ctx, "u1")
	if err != nil {
		t.Fatalf("Enabled failed: %v", err)
	}
	if enabled {
		t.Fatal("setup must not enable MFA before verification")
	}
}

func TestCompleteSetupWrongCodeLeavesPending(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	enr, err := svc.BeginSetup(ctx, "u1", "u1@example.com")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}

	if err := svc.CompleteSetup(ctx, "u1", "000000"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if len(store.methods) != 0 {
		t.Fatal("wrong code must not create a method")
	}

	// Retry with the real code still works: pending unchanged.
	if err := svc.CompleteSetup(ctx, "u1", currentCode(t, enr.Secret)); err != nil {
		t.Fatalf("CompleteSetup retry failed: %v", err)
	}

	method := store.methods["u1"]
	if method == nil || !method.Verified || !method.Primary {
		t.Fatalf("expected verified primary method, got %+v", method)
	}
	if len(method.BackupCodeHashes) != 8 {
		t.Fatalf("expected hashed backup codes persisted, got %d", len(method.BackupCodeHashes))
	}

	// Pending cleared after promotion.
	if err := svc.CompleteSetup(ctx, "u1", currentCode(t, enr.Secret)); !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("expected ErrNoPendingSetup after promotion, got %v", err)
	}
}

func TestBeginSetupRejectsWhenEnabled(t *testing.T) {
	svc, _, _ := testService(t)
	enroll(t, svc, "u1")

	if _, err := svc.BeginSetup(context.Background(), "u1", "u1@example.com"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}
}

func TestPendingSetupExpires(t *testing.T) {
	svc, _, mr := testService(t)
	ctx := context.Background()

	enr, err := svc.BeginSetup(ctx, "u1", "u1@example.com")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}

	mr.FastForward(11 * time.Minute)

	if err := svc.CompleteSetup(ctx, "u1", currentCode(t, enr.Secret)); !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("expected ErrNoPendingSetup after TTL, got %v", err)
	}
}

func TestVerifyTOTP(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	if err := svc.Verify(ctx, "u1", currentCode(t, enr.Secret), TypeTOTP); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if store.methods["u1"].LastUsedAt == nil {
		t.Fatal("expected last-used timestamp after success")
	}

	if err := svc.Verify(ctx, "u1", "000000", TypeTOTP); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
}

func TestVerifyTOTPRejectsReplay(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	code := currentCode(t, enr.Secret)
	if err := svc.Verify(ctx, "u1", code, TypeTOTP); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// The same code value must not verify twice within its window step.
	if err := svc.Verify(ctx, "u1", code, TypeTOTP); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	// An adjacent-step code generated before the claim is also dead: the
	// guard admits strictly newer steps only.
	stale, err := totp.GenerateCode(enr.Secret, time.Now().Add(-30*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if verr := svc.Verify(ctx, "u1", stale, TypeTOTP); !errors.Is(verr, ErrCodeInvalid) {
		t.Fatalf("expected earlier-step code to fail, got %v", verr)
	}
}

func TestRegenerateRejectsReplayedCode(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	code := currentCode(t, enr.Secret)
	if err := svc.Verify(ctx, "u1", code, TypeTOTP); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if _, err := svc.RegenerateBackupCodes(ctx, "u1", code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected replayed code to be refused for regeneration, got %v", err)
	}
}

func TestVerifyNotConfigured(t *testing.T) {
	svc, _, _ := testService(t)
	if err := svc.Verify(context.Background(), "ghost", "123456", TypeTOTP); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestVerifyAttemptBudget(t *testing.T) {
	svc, _, mr := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	// Budget is 3: the third failure trips the limiter.
	for i := 0; i < 2; i++ {
		if err := svc.Verify(ctx, "u1", "000000", TypeTOTP); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrCodeInvalid, got %v", i, err)
		}
	}
	if err := svc.Verify(ctx, "u1", "000000", TypeTOTP); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded on third failure, got %v", err)
	}

	// Valid code is rejected while over budget.
	if err := svc.Verify(ctx, "u1", currentCode(t, enr.Secret), TypeTOTP); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded with correct code, got %v", err)
	}

	// Window expiry restores access, success clears the counter.
	mr.FastForward(16 * time.Minute)
	if err := svc.Verify(ctx, "u1", currentCode(t, enr.Secret), TypeTOTP); err != nil {
		t.Fatalf("Verify after window failed: %v", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	code := enr.BackupCodes[0]
	if err := svc.Verify(ctx, "u1", code, TypeBackup); err != nil {
		t.Fatalf("backup verification failed: %v", err)
	}
	if got := len(store.methods["u1"].BackupCodeHashes); got != 7 {
		t.Fatalf("expected consumed code removed, %d hashes remain", got)
	}

	if err := svc.Verify(ctx, "u1", code, TypeBackup); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected reused backup code to fail, got %v", err)
	}
}

func TestBackupCodeNormalization(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	// Lowercased, de-hyphenated entry still matches.
	mangled := strings.ToLower(strings.ReplaceAll(enr.BackupCodes[1], "-", ""))
	if err := svc.Verify(ctx, "u1", mangled, TypeBackup); err != nil {
		t.Fatalf("normalized backup code rejected: %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	enr := enroll(t, svc, "u1")

	if _, err := svc.RegenerateBackupCodes(ctx, "u1", "000000"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected regeneration to demand a valid TOTP code, got %v", err)
	}

	fresh, err := svc.RegenerateBackupCodes(ctx, "u1", currentCode(t, enr.Secret))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != 8 {
		t.Fatalf("expected 8 fresh codes, got %d", len(fresh))
	}

	// Old codes no longer verify, fresh ones do.
	if err := svc.Verify(ctx, "u1", enr.BackupCodes[0], TypeBackup); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected stale code to fail, got %v", err)
	}
	if err := svc.Verify(ctx, "u1", fresh[0], TypeBackup); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
	if got := len(store.methods["u1"].BackupCodeHashes); got != 7 {
		t.Fatalf("expected 7 hashes after one use, got %d", got)
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	enroll(t, svc, "u1")

	if err := svc.Disable(ctx, "u1"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	enabled, err := svc.Enabled(ctx, "u1")
	if err != nil {
		t.Fatalf("Enabled failed: %v", err)
	}
	if enabled {
		t.Fatal("expected MFA disabled")
	}
	if err := svc.Disable(ctx, "u1"); err != nil {
		t.Fatalf("second Disable must succeed: %v", err)
	}
}

func TestWebAuthnStubsAreTagged(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	if err := svc.BeginWebAuthnSetup(ctx, "u1"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	err := svc.Verify(ctx, "u1", "anything", TypeWebAuthn)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if errors.Is(err, ErrCodeInvalid) {
		t.Fatal("stub outcome must be distinct from verification failure")
	}
}

func TestSecretBoxRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	box, err := newSecretBox(key)
	if err != nil {
		t.Fatalf("newSecretBox failed: %v", err)
	}

	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("JBSWY3DPEHPK3PXP"),
		bytes.Repeat([]byte{0x00}, 64),
		bytes.Repeat([]byte{0xff}, 1024),
	}
	for _, plaintext := range cases {
		sealed, err := box.seal(plaintext)
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		opened, err := box.open(sealed)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Fatalf("round trip mismatch for %d bytes", len(plaintext))
		}
	}

	// Tampered ciphertext must not open.
	sealed, err := box.seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := box.open(sealed); err == nil {
		t.Fatal("expected tampered blob to fail authentication")
	}

	if _, err := newSecretBox([]byte("short")); err == nil {
		t.Fatal("expected key length validation")
	}
}
