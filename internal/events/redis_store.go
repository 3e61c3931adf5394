package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProcessedStore claims events with SET NX and lets Redis expire them.
type RedisProcessedStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisProcessedStore creates a Redis-backed Tracker.
func NewRedisProcessedStore(client *redis.Client, ttl time.Duration) *RedisProcessedStore {
	if client == nil {
		panic("events: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProcessedStore{redis: client, ttl: ttl}
}

func (s *RedisProcessedStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, processedKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: claim processed: %w", err)
	}
	return ok, nil
}

func processedKey(provider, eventID string) string {
	return fmt.Sprintf("erika:processed:%s:%s", provider, eventID)
}

// MemoryProcessedStore keeps claims in process memory until they expire.
type MemoryProcessedStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	claims    map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryProcessedStore creates an in-process Tracker.
func NewMemoryProcessedStore(ttl time.Duration) *MemoryProcessedStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryProcessedStore{ttl: ttl, claims: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryProcessedStore) Claim(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	key := processedKey(provider, eventID)
	if exp, ok := s.claims[key]; ok && !now.After(exp) {
		return false, nil
	}
	s.claims[key] = now.Add(s.ttl)
	return true, nil
}

// sweep drops expired claims at most once per ttl. Caller holds mu.
func (s *MemoryProcessedStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for k, exp := range s.claims {
		if now.After(exp) {
			delete(s.claims, k)
		}
	}
}
