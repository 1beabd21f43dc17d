// internal/auth/session_test.go
package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stolik-gg/stolik/internal/store"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewService(secret, store.NewWithClient(rdb))
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestService(t, "test-secret")
	ctx := context.Background()
	userID := uuid.New()

	token, err := s.CreateSession(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := s.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, userID, got)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	s := newTestService(t, "test-secret")
	_, err := s.Authenticate(context.Background(), "not-a-jwt")
	require.Error(t, err)
	_, err = s.Authenticate(context.Background(), "")
	require.Error(t, err)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	s := newTestService(t, "secret-a")
	ctx := context.Background()

	token, err := s.CreateSession(ctx, uuid.New())
	require.NoError(t, err)

	other := NewService("secret-b", s.st)
	_, err = other.Authenticate(ctx, token)
	require.Error(t, err)
}

func TestRevokeKillsSession(t *testing.T) {
	s := newTestService(t, "test-secret")
	ctx := context.Background()
	userID := uuid.New()

	token, err := s.CreateSession(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, token))
	// signature still valid, but the stored id is gone
	_, err = s.Authenticate(ctx, token)
	require.Error(t, err)
}

func TestSessionsAreIndependent(t *testing.T) {
	s := newTestService(t, "test-secret")
	ctx := context.Background()

	t1, err := s.CreateSession(ctx, uuid.New())
	require.NoError(t, err)
	t2, err := s.CreateSession(ctx, uuid.New())
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, t1))
	_, err = s.Authenticate(ctx, t1)
	require.Error(t, err)
	_, err = s.Authenticate(ctx, t2)
	require.NoError(t, err)
}
