// internal/store/lock.go
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrBusy means the lock is held by someone else; callers retry with backoff.
	ErrBusy = errors.New("store: lock busy")
	// ErrLockLost means the fencing token no longer matches the stored nonce.
	// The holder must treat its critical section as aborted and not commit.
	ErrLockLost = errors.New("store: lock lost")
)

// DefaultLockTTL is the lease on lock keys; a crashed holder frees the lock
// when the lease expires.
const DefaultLockTTL = 30 * time.Second

// extendScript renews the lease only while the stored nonce still matches the
// caller's fencing token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lock only if the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements named, fenced, auto-expiring mutual exclusion on top of
// the shared store. The fencing token is a fresh random nonce per acquisition.
type Locker struct {
	rdb *redis.Client
}

// NewLocker builds a Locker over the store's client.
func (s *Store) Locker() *Locker {
	return &Locker{rdb: s.rdb}
}

// MatchLockKey is the lock key guarding all mutations of one match.
func MatchLockKey(matchID string) string { return "lock:match:" + matchID }

// BotLockKey serializes one bot's matchmaking actions.
func BotLockKey(botID uuid.UUID) string { return "lock:bot:" + botID.String() + ":loop" }

// Acquire attempts a single SET NX with ttl. On success it returns the fencing
// token; if the lock is held it returns ErrBusy.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return "", ErrBusy
	}
	return token, nil
}

// TryAcquire retries Acquire with jittered backoff until maxWait elapses.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl, maxWait time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	for {
		token, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrBusy) {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrBusy
		}
		// 20-70ms jittered retry keeps contending processes from lockstep.
		wait := time.Duration(20+rand.Intn(50)) * time.Millisecond
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Extend renews the lease. Returns ErrLockLost if the stored nonce no longer
// matches token, in which case the caller must abort without writing.
func (l *Locker) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.rdb, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", key, err)
	}
	if res == 0 {
		return ErrLockLost
	}
	return nil
}

// Release deletes the lock if token still holds it. Releasing a lost lock is
// not an error; the critical section already failed its fence.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
