// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stolik-gg/stolik/internal/models"
)

// ErrNotFound is returned when a key has no value in the store.
var ErrNotFound = errors.New("store: not found")

const (
	matchTTL = 6 * time.Hour
	lobbyTTL = 24 * time.Hour
	tokenTTL = 24 * time.Hour
)

// Store is the typed facade over the shared Redis instance. Every frontend
// process serving the portal talks to the same keyspace, so all cross-process
// coordination flows through here.
type Store struct {
	rdb *redis.Client
}

// Connect dials Redis and pings it once to fail fast on bad config.
func Connect(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func matchKey(id string) string  { return "match:" + id }
func engineKey(id string) string { return "engine:" + id }
func tokenKey(tok string) string { return "token:" + tok }

// ChannelFor is the pub/sub channel name for a match.
func ChannelFor(id string) string { return "channel:" + id }

// LoadMatch fetches and decodes the match record.
func (s *Store) LoadMatch(ctx context.Context, id string) (*models.Match, error) {
	data, err := s.rdb.Get(ctx, matchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", id, err)
	}
	var m models.Match
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", id, err)
	}
	return &m, nil
}

// SaveMatch writes the match record unconditionally. Callers must hold the
// match lock. The TTL is renewed on every write: lobbies live a day, running
// and finished matches six hours.
func (s *Store) SaveMatch(ctx context.Context, m *models.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.ID, err)
	}
	ttl := matchTTL
	if m.Status == models.StatusLobby {
		ttl = lobbyTTL
	}
	if err := s.rdb.Set(ctx, matchKey(m.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save match %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMatch removes the match record.
func (s *Store) DeleteMatch(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, matchKey(id)).Err()
}

// ListMatchIDs scans the keyspace for match ids. The scan is non-transactional;
// callers tolerate records appearing or vanishing mid-iteration.
func (s *Store) ListMatchIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "match:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan matches: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len("match:"):])
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// ListEngineIDs scans for engine snapshot ids, used by the cleanup sweeper to
// find orphans.
func (s *Store) ListEngineIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "engine:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan engines: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len("engine:"):])
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// LoadEngine fetches the opaque engine snapshot bytes.
func (s *Store) LoadEngine(ctx context.Context, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, engineKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load engine %s: %w", id, err)
	}
	return data, nil
}

// SaveEngine stores the engine snapshot. The runtime never parses the blob.
func (s *Store) SaveEngine(ctx context.Context, id string, blob []byte) error {
	if err := s.rdb.Set(ctx, engineKey(id), blob, matchTTL).Err(); err != nil {
		return fmt.Errorf("save engine %s: %w", id, err)
	}
	return nil
}

// DeleteEngine removes the engine snapshot.
func (s *Store) DeleteEngine(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, engineKey(id)).Err()
}

// HasEngine reports whether an engine snapshot exists for id.
func (s *Store) HasEngine(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, engineKey(id)).Result()
	return n > 0, err
}

// Publish sends raw event bytes on a channel. Delivery is best-effort
// at-most-once: late subscribers see nothing, so clients re-read on attach.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription on the named channels. The caller owns the
// returned PubSub and must Close it.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channels...)
}

// SetToken binds an opaque session token to a user id.
func (s *Store) SetToken(ctx context.Context, token string, userID uuid.UUID) error {
	return s.rdb.Set(ctx, tokenKey(token), userID.String(), tokenTTL).Err()
}

// GetToken resolves a session token to its user id.
func (s *Store) GetToken(ctx context.Context, token string) (uuid.UUID, error) {
	val, err := s.rdb.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get token: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token user id: %w", err)
	}
	return id, nil
}

// RevokeToken deletes a session token.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, tokenKey(token)).Err()
}
