package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

// Claims is the payload carried by issued tokens.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the caller resolved from a verified token.
type Identity struct {
	UserID    int64
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTTL sets how long issued tokens remain valid.
func WithTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithIssuer stamps tokens with iss and requires it on verification.
func WithIssuer(issuer string) TokenOption {
	return func(m *TokenManager) {
		m.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLeeway tolerates clock skew between issuing and verifying hosts.
func WithLeeway(leeway time.Duration) TokenOption {
	return func(m *TokenManager) {
		if leeway >= 0 {
			m.leeway = leeway
		}
	}
}

// TokenManager issues and verifies HS256 bearer tokens. It holds no
// per-token state; verification depends only on the token, the clock and the
// signing key.
type TokenManager struct {
	key    []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewTokenManager derives the signing key from secret and applies opts.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	key, err := deriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	manager := &TokenManager{
		key: key,
		ttl: defaultTokenTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager, nil
}

// TTL reports the lifetime applied to new tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for the given account.
func (m *TokenManager) Issue(userID int64, username string) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, ErrInvalidUserID
	}
	issuedAt := m.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(m.ttl)
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature first and the time-based claims second, so a
// forged token is always reported invalid, never expired.
func (m *TokenManager) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, claims, m.keyFunc); err != nil {
		return Identity{}, classifyParseError(err)
	}

	validatorOpts := []jwt.ParserOption{
		jwt.WithTimeFunc(m.now),
		jwt.WithLeeway(m.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		validatorOpts = append(validatorOpts, jwt.WithIssuer(m.issuer))
	}
	if err := jwt.NewValidator(validatorOpts...).Validate(claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredCredential
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.UserID <= 0 {
		return Identity{}, fmt.Errorf("%w: missing user_id claim", ErrInvalidCredential)
	}

	identity := Identity{UserID: claims.UserID, Username: claims.Username}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (m *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return m.key, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
}
