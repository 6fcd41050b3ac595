// Package auth issues and verifies the bearer tokens protecting the
// operator API. Webhook endpoints use their own shared-secret checks and do
// not go through this package.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"companion-calls/internal/config"
)

// Claims is the only supported JWT claims shape for this service.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		accessTTL: cfg.AccessTokenTTL,
	}, nil
}

// Issue signs an access token for an operator.
func (m *Manager) Issue(now time.Time, operatorID, role string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
		OperatorID: operatorID,
		Role:       role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

// Verify parses and validates a token at the given time.
func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	if _, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	if claims.OperatorID == "" {
		return Claims{}, errors.New("operator_id missing")
	}
	if claims.Role == "" {
		return Claims{}, errors.New("role missing")
	}
	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
