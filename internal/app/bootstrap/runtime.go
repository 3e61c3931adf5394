package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tecbrilho/erika-relay/internal/assistant"
	appconfig "github.com/tecbrilho/erika-relay/internal/config"
	"github.com/tecbrilho/erika-relay/internal/events"
	"github.com/tecbrilho/erika-relay/internal/leads"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, falling back to in-process stores", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL, returning nil when it is unset
// or unreachable.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("postgres not available", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// Stores groups the state backends chosen for this process.
type Stores struct {
	Tracker events.Tracker
	Locker  leads.Locker
	Threads assistant.ThreadStore
	// Processed is set when claims live in Postgres, for retention sweeps.
	Processed *events.ProcessedStore
	Backend   string
}

// BuildStores prefers Postgres for dedupe claims, then Redis, then memory.
// Leases and assistant threads use Redis when available.
func BuildStores(cfg *appconfig.Config, redisClient *redis.Client, pool *pgxpool.Pool) Stores {
	s := Stores{Backend: "memory"}
	switch {
	case pool != nil:
		s.Processed = events.NewProcessedStore(pool)
		s.Tracker = s.Processed
		s.Backend = "postgres"
	case redisClient != nil:
		s.Tracker = events.NewRedisProcessedStore(redisClient, cfg.DedupeTTL)
		s.Backend = "redis"
	default:
		s.Tracker = events.NewMemoryProcessedStore(cfg.DedupeTTL)
	}
	if redisClient != nil {
		s.Locker = leads.NewRedisLocker(redisClient, cfg.LeadLeaseTTL)
		s.Threads = assistant.NewRedisThreadStore(redisClient, cfg.ThreadTTL)
	} else {
		s.Locker = leads.NewMemoryLocker()
		s.Threads = assistant.NewMemoryThreadStore()
	}
	return s
}

// RunRetention purges Postgres dedupe claims older than ttl until ctx ends.
func RunRetention(ctx context.Context, store *events.ProcessedStore, ttl, interval time.Duration, logger *logging.Logger) {
	if store == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx, ttl)
			if err != nil {
				logger.Warn("processed events purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("processed events purged", "rows", n)
			}
		}
	}
}
