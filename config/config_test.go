package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/itrimble/securewatch-auth/token"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()

	os.Clearenv()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mfaKey := make([]byte, 32)
	if _, err := rand.Read(mfaKey); err != nil {
		t.Fatalf("read random: %v", err)
	}

	os.Setenv("DATABASE_URL", "postgres://localhost/securewatch")
	os.Setenv("TOKEN_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))
	os.Setenv("MFA_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(mfaKey))
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.TokenIssuer != "securewatch" {
		t.Errorf("TokenIssuer = %q", cfg.TokenIssuer)
	}
	if cfg.AccessTTL != "15m" || cfg.RefreshTTL != "168h" {
		t.Errorf("TTLs = %q, %q", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if cfg.LockoutThreshold != 5 {
		t.Errorf("LockoutThreshold = %d, want 5", cfg.LockoutThreshold)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("DATABASE_URL")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without DATABASE_URL")
	}
}

func TestLoadMissingSigningKey(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("TOKEN_PRIVATE_KEY")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without TOKEN_PRIVATE_KEY")
	}
}

func TestEngineConfig(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("ACCESS_TTL", "10m")
	os.Setenv("REFRESH_TTL", "72h")
	os.Setenv("LOCKOUT_THRESHOLD", "3")
	os.Setenv("LOCKOUT_DURATION", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if engineCfg.Token.AccessTTL != 10*time.Minute {
		t.Errorf("AccessTTL = %v", engineCfg.Token.AccessTTL)
	}
	if engineCfg.Token.RefreshTTL != 72*time.Hour {
		t.Errorf("RefreshTTL = %v", engineCfg.Token.RefreshTTL)
	}
	if engineCfg.Lockout.Threshold != 3 {
		t.Errorf("Lockout.Threshold = %d", engineCfg.Lockout.Threshold)
	}
	if engineCfg.Lockout.LockDuration != time.Hour {
		t.Errorf("Lockout.LockDuration = %v", engineCfg.Lockout.LockDuration)
	}
	if len(engineCfg.MFA.EncryptionKey) != 32 {
		t.Errorf("MFA key length = %d", len(engineCfg.MFA.EncryptionKey))
	}
	if err := engineCfg.Validate(); err != nil {
		t.Errorf("engine config should validate: %v", err)
	}
}

func TestEngineConfigPrivateKeyOnly(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}

	// No TOKEN_PUBLIC_KEY in the environment: the manager derives the
	// verify key, so the minimal documented configuration can serve.
	if _, err := token.NewManager(engineCfg.Token); err != nil {
		t.Fatalf("token manager rejected private-key-only config: %v", err)
	}
}

func TestEngineConfigRejectsShortMFAKey(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("MFA_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.EngineConfig(); err == nil {
		t.Fatal("EngineConfig should reject a short MFA key")
	}
}
