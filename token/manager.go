package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the signature algorithm for issued tokens.
type SigningMethod string

const (
	// MethodEd25519 is the default signing method.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 is supported for deployments with shared-secret trust.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes the two halves of a credential pair.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Config holds signing and validation parameters. There is no default
// signing key: construction fails when no key material is provisioned.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now is the canonical clock for both issuance and validation, so
	// expiry comparisons never skew between the two. Defaults to time.Now.
	Now func() time.Time
}

// Claims is the fixed, typed claim set carried by every issued token.
// Provider-specific custom claims ride in Extra rather than loose keys.
type Claims struct {
	TenantID   string            `json:"tid,omitempty"`
	SessionID  string            `json:"sid"`
	DeviceID   string            `json:"did,omitempty"`
	Generation int64             `json:"gen"`
	Scopes     []string          `json:"scp,omitempty"`
	TokenKind  Kind              `json:"tkn"`
	Extra      map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Pair is one issued access+refresh credential pair.
type Pair struct {
	AccessToken  string
	RefreshToken string

	AccessJTI  string
	RefreshJTI string

	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	SessionID  string
	TenantID   string
	DeviceID   string
	Generation int64
	Scopes     []string
}

// PairSpec describes the pair to mint.
type PairSpec struct {
	UserID     string
	TenantID   string
	SessionID  string
	DeviceID   string
	Generation int64
	Scopes     []string
	Extra      map[string]string

	// SessionExpiresAt, when set, caps both token lifetimes: no token may
	// outlive its session.
	SessionExpiresAt time.Time
}

// Manager issues and parses signed credential pairs. Treat as immutable
// after construction.
type Manager struct {
	config Config
}

// NewManager validates key material and TTLs. A missing signing key is a
// configuration error, fatal at startup rather than per request.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL below access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// IssuePair mints an access+refresh pair bound to the given session and
// generation. Token lifetimes are capped by the session expiry so that the
// invariant accessToken.expiresAt < session.expiresAt holds.
func (m *Manager) IssuePair(spec PairSpec) (*Pair, error) {
	now := m.config.Now()

	accessExp := now.Add(m.config.AccessTTL)
	refreshExp := now.Add(m.config.RefreshTTL)
	if !spec.SessionExpiresAt.IsZero() {
		if !accessExp.Before(spec.SessionExpiresAt) {
			accessExp = spec.SessionExpiresAt.Add(-time.Second)
		}
		if refreshExp.After(spec.SessionExpiresAt) {
			refreshExp = spec.SessionExpiresAt
		}
	}
	if !accessExp.After(now) || !refreshExp.After(now) {
		return nil, errors.New("session expiry leaves no token lifetime")
	}

	pair := &Pair{
		AccessJTI:        uuid.NewString(),
		RefreshJTI:       uuid.NewString(),
		IssuedAt:         now,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        spec.SessionID,
		TenantID:         spec.TenantID,
		DeviceID:         spec.DeviceID,
		Generation:       spec.Generation,
		Scopes:           spec.Scopes,
	}

	access, err := m.sign(spec, KindAccess, pair.AccessJTI, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(spec, KindRefresh, pair.RefreshJTI, now, refreshExp)
	if err != nil {
		return nil, err
	}

	pair.AccessToken = access
	pair.RefreshToken = refresh
	return pair, nil
}

func (m *Manager) sign(spec PairSpec, kind Kind, jti string, now, exp time.Time) (string, error) {
	claims := Claims{
		TenantID:   spec.TenantID,
		SessionID:  spec.SessionID,
		DeviceID:   spec.DeviceID,
		Generation: spec.Generation,
		TokenKind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   spec.UserID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	// Scopes ride on both kinds so rotation can reproduce them without a
	// session lookup; Extra stays access-only.
	claims.Scopes = spec.Scopes
	if kind == KindAccess {
		claims.Extra = spec.Extra
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	tok := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		tok.Header["kid"] = m.config.KeyID
	}

	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(signKey)
}

// ParseAccess verifies signature, expiry, issuer, audience, and token kind
// for an access token.
func (m *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, KindAccess)
}

// ParseRefresh verifies a refresh token. The caller still must run the
// generation compare-and-swap before trusting it.
func (m *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, KindRefresh)
}

func (m *Manager) parse(tokenStr string, kind Kind) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithTimeFunc(m.config.Now),
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
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(m.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := m.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return m.verifyKeyBytes(key)
		}

		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return m.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TokenKind != kind {
		return nil, fmt.Errorf("%w: wrong token kind", jwt.ErrTokenInvalidClaims)
	}
	if claims.SessionID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing binding claims", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

// AccessTTL exposes the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL exposes the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func (m *Manager) verifyKeyBytes(key []byte) (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
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
