package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/sentinel/internal/reliability"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and sizes a conversation store.
type Config struct {
	Backend     string
	Window      int
	Shards      int
	IdleTTL     time.Duration
	RedisURL    string
	DatabaseURL string

	// ConnectAttempts bounds startup retries for networked backends.
	ConnectAttempts int
}

// NewStore creates the configured backend. An empty backend picks postgres
// when DATABASE_URL is set, redis when REDIS_URL is set, otherwise memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		switch {
		case strings.TrimSpace(cfg.DatabaseURL) != "":
			backend = BackendPostgres
		case strings.TrimSpace(cfg.RedisURL) != "":
			backend = BackendRedis
		default:
			backend = BackendMemory
		}
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}

	switch backend {
	case BackendMemory:
		return NewInMemoryStore(cfg.Window, cfg.Shards), nil
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, fmt.Errorf("redis backend requires REDIS_URL")
		}
		var store *RedisStore
		err := reliability.Retry(ctx, attempts, 200*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
			s, err := NewRedisStore(ctx, cfg.RedisURL, cfg.Window, cfg.IdleTTL)
			store = s
			return err
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		var store *PostgresStore
		err := reliability.Retry(ctx, attempts, 200*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
			s, err := NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Window)
			store = s
			return err
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown conversation store backend %q", cfg.Backend)
	}
}
