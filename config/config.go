// Package config loads the authd server configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"encoding/base64"
	"errors"
	"time"

	"github.com/spf13/viper"

	authcore "github.com/itrimble/securewatch-auth"
)

// Config holds the server-level settings. Engine tuning that rarely
// changes (argon parameters, rate-limit tables) keeps the defaults from
// authcore.DefaultConfig; the environment supplies addresses, stores,
// keys, and TTLs.
type Config struct {
	// HTTPAddr is the listen address (e.g. ":8080").
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is optional.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// TokenPrivateKey is the base64-encoded Ed25519 signing key (raw or
	// PEM). Required.
	TokenPrivateKey string `mapstructure:"TOKEN_PRIVATE_KEY"`
	// TokenPublicKey is the base64-encoded Ed25519 verification key.
	// Required for verify-only deployments; derived from the private key
	// otherwise.
	TokenPublicKey string `mapstructure:"TOKEN_PUBLIC_KEY"`
	// TokenIssuer is the iss claim.
	TokenIssuer string `mapstructure:"TOKEN_ISSUER"`
	// TokenAudience is the aud claim; empty disables the audience check.
	TokenAudience string `mapstructure:"TOKEN_AUDIENCE"`
	// AccessTTL is the access token lifetime (e.g. "15m").
	AccessTTL string `mapstructure:"ACCESS_TTL"`
	// RefreshTTL is the refresh token lifetime (e.g. "168h").
	RefreshTTL string `mapstructure:"REFRESH_TTL"`

	// MFAEncryptionKey is the base64-encoded 32-byte AES key sealing
	// TOTP secrets at rest. Required.
	MFAEncryptionKey string `mapstructure:"MFA_ENCRYPTION_KEY"`
	// MFAIssuer is the issuer name shown in authenticator apps.
	MFAIssuer string `mapstructure:"MFA_ISSUER"`

	// LockoutThreshold is the failed-password count that locks an
	// account.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutDuration is how long a lock lasts (e.g. "30m").
	LockoutDuration string `mapstructure:"LOCKOUT_DURATION"`

	// Env is the deployment environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env when present, then the environment. Env vars override
// the file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine, e.g. in CI

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("TOKEN_ISSUER", "securewatch")
	v.SetDefault("TOKEN_AUDIENCE", "")
	v.SetDefault("ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h")
	v.SetDefault("MFA_ISSUER", "SecureWatch")
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "30m")
	v.SetDefault("APP_ENV", "development")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if cfg.TokenPrivateKey == "" {
		return nil, errors.New("config: TOKEN_PRIVATE_KEY must be set")
	}
	if cfg.MFAEncryptionKey == "" {
		return nil, errors.New("config: MFA_ENCRYPTION_KEY must be set")
	}

	return &cfg, nil
}

// EngineConfig converts the environment settings into an engine
// configuration on top of the library defaults.
func (c *Config) EngineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	privateKey, err := base64.StdEncoding.DecodeString(c.TokenPrivateKey)
	if err != nil {
		return cfg, errors.New("config: TOKEN_PRIVATE_KEY is not valid base64")
	}
	cfg.Token.PrivateKey = privateKey

	if c.TokenPublicKey != "" {
		publicKey, err := base64.StdEncoding.DecodeString(c.TokenPublicKey)
		if err != nil {
			return cfg, errors.New("config: TOKEN_PUBLIC_KEY is not valid base64")
		}
		cfg.Token.PublicKey = publicKey
	}

	mfaKey, err := base64.StdEncoding.DecodeString(c.MFAEncryptionKey)
	if err != nil || len(mfaKey) != 32 {
		return cfg, errors.New("config: MFA_ENCRYPTION_KEY must be 32 bytes of base64")
	}
	cfg.MFA.EncryptionKey = mfaKey

	cfg.Token.Issuer = c.TokenIssuer
	cfg.Token.Audience = c.TokenAudience
	cfg.Token.AccessTTL = parseDuration(c.AccessTTL, cfg.Token.AccessTTL)
	cfg.Token.RefreshTTL = parseDuration(c.RefreshTTL, cfg.Token.RefreshTTL)
	cfg.MFA.Issuer = c.MFAIssuer
	if c.LockoutThreshold > 0 {
		cfg.Lockout.Threshold = c.LockoutThreshold
	}
	cfg.Lockout.LockDuration = parseDuration(c.LockoutDuration, cfg.Lockout.LockDuration)

	return cfg, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
