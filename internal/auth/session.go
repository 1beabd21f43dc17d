// internal/auth/session.go
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/store"
)

// Service mints and verifies session tokens. The JWT carries the user id and
// an opaque token id; the token id is persisted in the shared store so any
// process can revoke a session.
type Service struct {
	secret []byte
	st     *store.Store
	expire time.Duration
}

// NewService builds the session service with the shared signing secret.
func NewService(secret string, st *store.Store) *Service {
	return &Service{secret: []byte(secret), st: st, expire: 24 * time.Hour}
}

// CreateSession mints a signed JWT for userID and records its opaque id.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"jti": jti,
		"exp": time.Now().Add(s.expire).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	if err := s.st.SetToken(ctx, jti, userID); err != nil {
		return "", err
	}
	return signed, nil
}

// Authenticate verifies a JWT and checks its opaque id against the store;
// revoked sessions fail even with a valid signature.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (uuid.UUID, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("jwt parse error: %w", err)
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return uuid.Nil, fmt.Errorf("missing jti in jwt")
	}
	userID, err := s.st.GetToken(ctx, jti)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session revoked or expired")
	}
	sub, _ := claims["sub"].(string)
	if sub != userID.String() {
		return uuid.Nil, fmt.Errorf("token subject mismatch")
	}
	return userID, nil
}

// Revoke invalidates the session behind a token without requiring a valid
// signature; deleting the stored id is what kills the session.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	t, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("jwt parse error: %w", err)
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid jwt claims")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return fmt.Errorf("missing jti in jwt")
	}
	return s.st.RevokeToken(ctx, jti)
}
