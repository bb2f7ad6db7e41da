package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "session:v1:"

// SessionStore tracks which anonymous sessions are still live.
type SessionStore interface {
	Put(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessionStore keeps live sessions as expiring Redis keys.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore builds a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Put(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionPrefix+sessionID, userID, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return n == 1, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

// NewMemorySessionStore builds an in-memory session store for development and tests.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: make(map[string]time.Time), now: time.Now}
}

func (s *memorySessionStore) Put(_ context.Context, sessionID, _ string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = s.now().Add(ttl)
	return nil
}

func (s *memorySessionStore) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.sessions, sessionID)
		return false, nil
	}
	return true, nil
}

func (s *memorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
