package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenAudience is the fixed audience of every issued session token.
	TokenAudience = "Helix Admin"
	// DefaultTokenIssuer is used when no issuer is configured.
	DefaultTokenIssuer = "Helix Server"

	minSecretLength = 32
)

var (
	ErrSecretTooShort = fmt.Errorf("auth: token secret must be at least %d bytes", minSecretLength)
	ErrValidTime      = errors.New("auth: token valid time must be positive")
	errEmptySubject   = errors.New("auth: token subject is empty")
)

// Claims are the registered claims of a session token. Subject is the username.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	Secret    string
	Issuer    string
	ValidTime time.Duration
}

// TokenCodec signs and verifies HS256 session tokens.
type TokenCodec struct {
	secret    []byte
	issuer    string
	validTime time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

// TokenOption configures TokenCodec behavior.
type TokenOption func(*TokenCodec)

// WithTokenClock overrides time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec validates cfg and builds a codec.
func NewTokenCodec(cfg TokenConfig, opts ...TokenOption) (*TokenCodec, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.ValidTime <= 0 {
		return nil, ErrValidTime
	}
	c := &TokenCodec{
		secret:    []byte(cfg.Secret),
		issuer:    strings.TrimSpace(cfg.Issuer),
		validTime: cfg.ValidTime,
		now:       time.Now,
	}
	if c.issuer == "" {
		c.issuer = DefaultTokenIssuer
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// ValidTime returns the lifetime of issued tokens.
func (c *TokenCodec) ValidTime() time.Duration { return c.validTime }

// Issue signs a token for the user.
func (c *TokenCodec) Issue(user User) (string, time.Time, error) {
	username := strings.TrimSpace(user.Username)
	if username == "" {
		return "", time.Time{}, errEmptySubject
	}
	now := c.now().UTC()
	expiresAt := now.Add(c.validTime)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   username,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience and validity window. Every
// failure is reported as ErrInvalidToken with the cause attached.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Message: ErrInvalidToken.Message, Err: err}
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, &Error{Kind: KindUnauthorized, Message: ErrInvalidToken.Message, Err: errEmptySubject}
	}
	return claims, nil
}
