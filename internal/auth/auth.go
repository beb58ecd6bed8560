package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Service validates tokens minted at sign-in by the identity provider flow
// and issues them for local sessions. The persistence mode chosen before
// sign-in (durable vs session-only) maps to the token lifetime.
type Service struct {
	secret     []byte
	sessionTTL time.Duration
	durableTTL time.Duration
}

// New builds a token service around a shared secret.
func New(secret string) *Service {
	return &Service{
		secret:     []byte(secret),
		sessionTTL: 12 * time.Hour,
		durableTTL: 30 * 24 * time.Hour,
	}
}

// Issue mints a token for the user. remember selects the durable lifetime.
func (s *Service) Issue(userID string, remember bool) (string, error) {
	ttl := s.sessionTTL
	if remember {
		ttl = s.durableTTL
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(s.secret)
}

// Validate verifies the token and returns the authenticated user id.
func (s *Service) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
