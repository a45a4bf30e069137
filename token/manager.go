package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds signing material and token lifetimes.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	PrivateKey []byte // raw ed25519 seed-extended key or PEM
	PublicKey  []byte // raw ed25519 public key or PEM
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// AccessClaims is the claim set of an access token: registered claims plus
// the identity, tenancy, and authorization context embedded at login time.
type AccessClaims struct {
	UserID         string   `json:"uid"`
	OrganizationID string   `json:"org,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	Permissions    []string `json:"perms,omitempty"`
	SessionID      string   `json:"sid"`
	TokenUse       string   `json:"use"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set of a refresh token: identity plus the
// device/IP context captured when the session was created.
type RefreshClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	Device    string `json:"dev,omitempty"`
	IP        string `json:"ip,omitempty"`
	TokenUse  string `json:"use"`
	jwt.RegisteredClaims
}

// Token use markers. A token presented to the wrong parser fails even
// though both claim sets share the identity fields.
const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Manager signs and parses session tokens. Verification uses only the public
// key, so verifying services never hold the signing secret.
//
// Manager instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Manager struct {
	config     Config
	signKey    ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
	verifyOnly bool
}

// NewManager validates the key material and lifetimes and returns a ready
// Manager. A manager built without a private key can only verify; one built
// without a public key derives it from the private key.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	m := &Manager{config: cfg, verifyOnly: true}
	if len(cfg.PrivateKey) > 0 {
		signKey, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.signKey = signKey
		m.verifyOnly = false
	}

	switch {
	case len(cfg.PublicKey) > 0:
		verifyKey, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.verifyKey = verifyKey
	case m.signKey != nil:
		m.verifyKey = m.signKey.Public().(ed25519.PublicKey)
	default:
		return nil, errors.New("ed25519 public key required")
	}
	return m, nil
}

// PairInput carries everything embedded into a freshly issued token pair.
type PairInput struct {
	UserID         string
	OrganizationID string
	Roles          []string
	Permissions    []string
	SessionID      string
	Device         string
	IP             string
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// SignPair issues an access token and a refresh token for the same session.
// Both carry a fresh jti; the access jti is the blacklist key on revocation.
func (m *Manager) SignPair(in PairInput) (Pair, error) {
	if m.verifyOnly {
		return Pair{}, errors.New("manager has no signing key")
	}
	now := time.Now()
	accessExp := now.Add(m.config.AccessTTL)
	refreshExp := now.Add(m.config.RefreshTTL)

	access := AccessClaims{
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		Roles:          in.Roles,
		Permissions:    in.Permissions,
		SessionID:      in.SessionID,
		TokenUse:       useAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   in.UserID,
			Issuer:    m.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(accessExp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	refresh := RefreshClaims{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Device:    in.Device,
		IP:        in.IP,
		TokenUse:  useRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   in.UserID,
			Issuer:    m.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if m.config.Audience != "" {
		access.Audience = jwt.ClaimStrings{m.config.Audience}
		refresh.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, access).SignedString(m.signKey)
	if err != nil {
		return Pair{}, err
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, refresh).SignedString(m.signKey)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
		SessionID:        in.SessionID,
	}, nil
}

// ParseAccess validates signature, issuer, audience, and expiry. It performs
// no store lookups; blacklist membership is the caller's concern.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.SessionID == "" || claims.TokenUse != useAccess {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseRefresh validates signature, issuer, audience, and expiry of a refresh
// token. Record matching happens against the store afterwards.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.SessionID == "" || claims.TokenUse != useRefresh {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
