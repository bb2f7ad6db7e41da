package devicecache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "identity:v1:device:"

// Store is the durable per-device key/value area the cache adapter writes to.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	// Replace swaps every stored field for fields in one step.
	Replace(ctx context.Context, fields map[string]string) error
	Remove(ctx context.Context, fields ...string) error
	Drop(ctx context.Context) error
}

// RedisStore keeps one device's fields in a single Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns the store for deviceID.
func NewRedisStore(client *redis.Client, deviceID string) *RedisStore {
	return &RedisStore{client: client, key: keyPrefix + deviceID}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	return fields, nil
}

func (s *RedisStore) Replace(ctx context.Context, fields map[string]string) error {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(args) > 0 {
			pipe.HSet(ctx, s.key, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key, fields...).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Drop(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key, err)
	}
	return nil
}

// MemoryStores hands out in-memory device stores that survive for the life of
// the process. Used when no Redis is configured.
type MemoryStores struct {
	mu      sync.Mutex
	devices map[string]*memoryStore
}

// NewMemoryStores creates an empty set of in-memory device stores.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{devices: make(map[string]*memoryStore)}
}

// For returns the store for deviceID, creating it on first use.
func (m *MemoryStores) For(deviceID string) Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.devices[deviceID]
	if !ok {
		s = &memoryStore{fields: make(map[string]string)}
		m.devices[deviceID] = s
	}
	return s
}

type memoryStore struct {
	mu     sync.Mutex
	fields map[string]string
}

func (s *memoryStore) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) Replace(_ context.Context, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = make(map[string]string, len(fields))
	for k, v := range fields {
		s.fields[k] = v
	}
	return nil
}

func (s *memoryStore) Remove(_ context.Context, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range fields {
		delete(s.fields, k)
	}
	return nil
}

func (s *memoryStore) Drop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = make(map[string]string)
	return nil
}
