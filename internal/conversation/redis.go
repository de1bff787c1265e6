package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/sentinel/internal/reliability"
	"github.com/ent0n29/sentinel/internal/safety"
)

// RedisStore keeps each conversation in a capped Redis list. Idle eviction
// is delegated to key expiry.
type RedisStore struct {
	client *redis.Client
	window int
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, redisURL string, window int, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, reliability.Permanent(fmt.Errorf("parse redis url: %w", err))
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{client: client, window: window, ttl: ttl}, nil
}

func (r *RedisStore) key(userID string) string {
	return "conversation:" + userID
}

func (r *RedisStore) Append(ctx context.Context, userID string, msg safety.Message) ([]safety.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	key := r.key(userID)

	// MULTI/EXEC keeps push, trim and read atomic for the key.
	var window *redis.StringSliceCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-r.window), -1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		window = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: redis append: %w", safety.ErrStoreUnavailable, err)
	}

	raw := window.Val()
	out := make([]safety.Message, 0, len(raw))
	for _, item := range raw {
		var m safety.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("%w: decode message: %w", safety.ErrStoreUnavailable, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// EvictIdle is a no-op: keys expire on their own after the idle TTL.
func (r *RedisStore) EvictIdle(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
