package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThreadStore remembers which assistant thread belongs to a customer so the
// conversation keeps its context across webhook deliveries.
type ThreadStore interface {
	Get(ctx context.Context, phone string) (string, error)
	Save(ctx context.Context, phone, threadID string) error
}

// RedisThreadStore keeps thread ids in Redis with a sliding TTL.
type RedisThreadStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisThreadStore returns a Redis-backed ThreadStore.
func NewRedisThreadStore(client *redis.Client, ttl time.Duration) *RedisThreadStore {
	if client == nil {
		panic("assistant: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisThreadStore{redis: client, ttl: ttl}
}

// Get returns the stored thread id, or "" when none is known.
func (s *RedisThreadStore) Get(ctx context.Context, phone string) (string, error) {
	id, err := s.redis.Get(ctx, threadKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("assistant: load thread: %w", err)
	}
	return id, nil
}

// Save stores the thread id and refreshes its TTL.
func (s *RedisThreadStore) Save(ctx context.Context, phone, threadID string) error {
	if err := s.redis.Set(ctx, threadKey(phone), threadID, s.ttl).Err(); err != nil {
		return fmt.Errorf("assistant: save thread: %w", err)
	}
	return nil
}

func threadKey(phone string) string {
	return fmt.Sprintf("erika:thread:%s", phone)
}

// MemoryThreadStore is the single-process fallback when Redis is not configured.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]string
}

// NewMemoryThreadStore creates an empty in-memory store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{threads: make(map[string]string)}
}

func (s *MemoryThreadStore) Get(_ context.Context, phone string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[phone], nil
}

func (s *MemoryThreadStore) Save(_ context.Context, phone, threadID string) error {
	s.mu.Lock()
	s.threads[phone] = threadID
	s.mu.Unlock()
	return nil
}
