package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itrimble/securewatch-auth/internal/random"
)

// Config holds MFA tuning parameters.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	Issuer           string
	Digits           int // 6 or 8
	Period           int // seconds per TOTP step
	Skew             int // steps of allowed clock drift either side
	BackupCodeCount  int
	BackupCodeLength int
	PendingTTL       time.Duration
	MaxAttempts      int
	AttemptWindow    time.Duration
	EncryptionKey    []byte // 32-byte AES-256 key for secrets at rest
}

// Service orchestrates MFA state transitions. All authoritative state lives
// in the Redis pending store and the relational MethodStore; the Service
// itself is stateless per request.
type Service struct {
	config   Config
	box      *secretBox
	pending  *pendingStore
	attempts *attemptLimiter
	steps    *stepGuard
	methods  MethodStore
}

// NewService validates cfg and returns a ready Service.
func NewService(cfg Config, redisClient redis.UniversalClient, methods MethodStore) (*Service, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("mfa issuer required")
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("totp digits must be 6 or 8")
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Skew < 0 || cfg.Skew > 4 {
		return nil, errors.New("totp skew out of range")
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.BackupCodeLength <= 0 {
		cfg.BackupCodeLength = 10
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}
	if redisClient == nil {
		return nil, errors.New("redis client required")
	}
	if methods == nil {
		return nil, errors.New("method store required")
	}

	box, err := newSecretBox(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:   cfg,
		box:      box,
		pending:  &pendingStore{redis: redisClient},
		attempts: &attemptLimiter{redis: redisClient, maxAttempts: int64(cfg.MaxAttempts), window: cfg.AttemptWindow},
		// The claim outlives the whole drift window so an old step
		// cannot be re-claimed after the key expires.
		steps:   &stepGuard{redis: redisClient, ttl: time.Duration(2*(cfg.Skew+1)*cfg.Period) * time.Second},
		methods: methods,
	}, nil
}

// BeginSetup stages a TOTP enrollment for the user and returns the secret,
// enrollment URL, and backup codes exactly once. Re-running BeginSetup
// before verification replaces the staged record; running it after a method
// is verified fails with ErrAlreadyEnabled.
func (s *Service) BeginSetup(ctx context.Context, userID, email string) (*Enrollment, error) {
	enabled, err := s.Enabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if enabled {
		return nil, ErrAlreadyEnabled
	}

	key, err := s.generateKey(email)
	if err != nil {
		return nil, err
	}

	rawCodes, codeHashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	sealed, err := s.box.seal([]byte(key.Secret()))
	if err != nil {
		return nil, err
	}

	rec := &pendingRecord{
		Type:            TypeTOTP,
		SecretEncrypted: sealed,
		CodeHashes:      codeHashes,
		CreatedAt:       time.Now().Unix(),
	}
	if err := s.pending.Save(ctx, userID, rec, s.config.PendingTTL); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:      key.Secret(),
		URL:         key.URL(),
		BackupCodes: rawCodes,
	}, nil
}

// CompleteSetup promotes the staged enrollment to a verified Method if the
// presented code validates against the staged secret. On a wrong code the
// staged record is left untouched so the user may retry until the TTL
// elapses.
func (s *Service) CompleteSetup(ctx context.Context, userID, code string) error {
	rec, err := s.pending.Get(ctx, userID)
	if err != nil {
		return err
	}

	secret, err := s.box.open(rec.SecretEncrypted)
	if err != nil {
		return ErrNoPendingSetup
	}
	if !s.validateTOTP(code, string(secret), time.Now()) {
		return ErrCodeInvalid
	}

	now := time.Now()
	method := &Method{
		ID:               random.EntityID(),
		UserID:           userID,
		Type:             TypeTOTP,
		SecretEncrypted:  rec.SecretEncrypted,
		BackupCodeHashes: rec.CodeHashes,
		Verified:         true,
		Primary:          true,
		CreatedAt:        now,
	}
	if err := s.methods.CreateMethod(ctx, method); err != nil {
		return err
	}

	// Method row exists from here on; a verified method and a pending
	// setup are mutually exclusive the moment verification succeeds.
	return s.pending.Delete(ctx, userID)
}

// Verify checks a second factor for an authenticated or mid-login user.
// methodType selects TOTP or backup-code verification; each failure counts
// against the per-user attempt budget and success clears it.
func (s *Service) Verify(ctx context.Context, userID, code, methodType string) error {
	if methodType == TypeWebAuthn {
		return ErrNotImplemented
	}

	if err := s.attempts.Check(ctx, userID); err != nil {
		return err
	}

	var err error
	switch methodType {
	case TypeTOTP, "":
		err = s.verifyTOTP(ctx, userID, code)
	case TypeBackup:
		err = s.verifyBackupCode(ctx, userID, code)
	default:
		err = ErrCodeInvalid
	}

	if errors.Is(err, ErrCodeInvalid) {
		if recordErr := s.attempts.RecordFailure(ctx, userID); errors.Is(recordErr, ErrAttemptsExceeded) {
			return recordErr
		}
		return err
	}
	if err != nil {
		return err
	}

	return s.attempts.Reset(ctx, userID)
}

func (s *Service) verifyTOTP(ctx context.Context, userID, code string) error {
	method, err := s.methods.GetMethod(ctx, userID, TypeTOTP)
	if err != nil {
		return err
	}

	secret, err := s.box.open(method.SecretEncrypted)
	if err != nil {
		return ErrCodeInvalid
	}
	step, ok := s.matchTOTP(code, string(secret), time.Now())
	if !ok {
		return ErrCodeInvalid
	}

	// A code verifies exactly once per window step. A replay inside the
	// step, or a straggler from an already-claimed earlier step, is
	// indistinguishable from a wrong code to the caller.
	claimed, err := s.steps.Claim(ctx, method.ID, step)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrCodeInvalid
	}

	return s.methods.TouchLastUsed(ctx, method.ID, time.Now())
}

func (s *Service) verifyBackupCode(ctx context.Context, userID, code string) error {
	method, err := s.methods.GetMethod(ctx, userID, TypeTOTP)
	if err != nil {
		return err
	}

	remaining, ok := consumeBackupCode(method.BackupCodeHashes, code)
	if !ok {
		return ErrCodeInvalid
	}

	// Persist the shortened list before reporting success so the code can
	// never validate twice.
	if err := s.methods.ReplaceBackupCodes(ctx, method.ID, remaining); err != nil {
		return err
	}
	return s.methods.TouchLastUsed(ctx, method.ID, time.Now())
}

// RegenerateBackupCodes replaces the full backup-code set. It demands a
// fresh TOTP code so a hijacked session cannot mint recovery codes.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	method, err := s.methods.GetMethod(ctx, userID, TypeTOTP)
	if err != nil {
		return nil, err
	}

	secret, err := s.box.open(method.SecretEncrypted)
	if err != nil {
		return nil, ErrCodeInvalid
	}
	step, ok := s.matchTOTP(totpCode, string(secret), time.Now())
	if !ok {
		return nil, ErrCodeInvalid
	}
	claimed, err := s.steps.Claim(ctx, method.ID, step)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrCodeInvalid
	}

	rawCodes, codeHashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.methods.ReplaceBackupCodes(ctx, method.ID, codeHashes); err != nil {
		return nil, err
	}
	return rawCodes, nil
}

// Enabled reports whether the user has a verified method.
func (s *Service) Enabled(ctx context.Context, userID string) (bool, error) {
	_, err := s.methods.GetMethod(ctx, userID, TypeTOTP)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Disable removes every method and any staged enrollment for the user.
// Idempotent: disabling a user with nothing configured succeeds.
func (s *Service) Disable(ctx context.Context, userID string) error {
	if err := s.methods.DeleteMethodsForUser(ctx, userID); err != nil {
		return err
	}
	return s.pending.Delete(ctx, userID)
}
