package leads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out short-lived exclusive leases keyed by phone number.
type Locker interface {
	// Acquire blocks until the lease is held or ctx ends. The returned func
	// releases it and is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the lease only if it still carries our token, so an
// expired lease re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX, which works across replicas.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
	retry time.Duration
}

// NewRedisLocker creates a Redis-backed Locker. ttl bounds how long a crashed
// holder can block others.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if client == nil {
		panic("leads: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{redis: client, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := leaseKey(key)
	token := uuid.NewString()
	for {
		ok, err := l.redis.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrLeaseTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("leads: acquire lease: %w", err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.redis, []string{lockKey}, token).Err()
				})
			}, nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrLeaseTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func leaseKey(key string) string {
	return fmt.Sprintf("erika:lead-lease:%s", key)
}

// MemoryLocker serialises holders of the same key inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*memorySlot)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &memorySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, slot)
		return nil, fmt.Errorf("%w: %v", ErrLeaseTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.unref(key, slot)
		})
	}, nil
}

func (l *MemoryLocker) unref(key string, slot *memorySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
