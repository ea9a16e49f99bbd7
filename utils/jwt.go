package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// RoleAdmin may manage the calendar integration.
	RoleAdmin = "admin"
	// RoleOAuthState marks the short-lived state token of a consent flow.
	RoleOAuthState = "oauth_state"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenClaims is what the service reads back from a verified token.
type TokenClaims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// TokenSigner issues and verifies HS256 tokens with one shared secret.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}, nil
}

// GenerateToken creates a signed token for subject with role. The token
// expires after ttl.
func (s *TokenSigner) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken checks the signature and expiry. Tokens without an exp claim
// or a subject are rejected.
func (s *TokenSigner) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(s.now().Unix(), true) {
		return nil, errors.New("token has no valid expiry")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("token does not contain a valid 'sub' claim")
	}
	role, _ := claims["role"].(string)
	exp, _ := claims["exp"].(float64)
	return &TokenClaims{Subject: sub, Role: role, ExpiresAt: time.Unix(int64(exp), 0)}, nil
}
