package security

import (
	"errors"
	"time"

	"docgateway/internal/datastore/domain/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid          = errors.New("token is invalid")
	ErrTokenExpired          = errors.New("token is expired")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
)

// Claims is the bearer token payload: the tenant the caller acts for and what it may do.
type Claims struct {
	TenantID     string             `json:"tenantId"`
	Capabilities []model.Permission `json:"capabilities"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant p. Write implies read.
func (c *Claims) Allows(p model.Permission) bool {
	for _, granted := range c.Capabilities {
		if granted == p || (granted == model.PermissionWrite && p == model.PermissionRead) {
			return true
		}
	}
	return false
}

// CoversTenant reports whether the token was issued for tenantID. A token
// without a tenant is an operator token and covers every tenant.
func (c *Claims) CoversTenant(tenantID string) bool {
	return c.TenantID == "" || c.TenantID == tenantID
}

// TokenService signs and verifies HS256 bearer tokens.
type TokenService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewTokenService creates a token service. ttl only affects GenerateToken.
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret key cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{secretKey: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// GenerateToken issues a token for tenantID with the given capabilities.
func (s *TokenService) GenerateToken(subject, tenantID string, caps ...model.Permission) (string, error) {
	now := time.Now()
	claims := &Claims{
		TenantID:     tenantID,
		Capabilities: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// ValidateToken verifies tokenString and returns its claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignatureInvalid
		}
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignatureInvalid
		default:
			return nil, ErrTokenInvalid
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
