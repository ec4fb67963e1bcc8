package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements CounterStore and Cache on a shared Redis.
// Counters are timestamp-scored sets so a window is just a score range.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AtomicWindowIncrement issues every eviction, insertion, count and
// expiry refresh for one call in a single MULTI/EXEC pipeline, so
// concurrent calls from the same key never observe a half-applied
// update.
func (s *RedisStore) AtomicWindowIncrement(ctx context.Context, increments []WindowIncrement) ([]int64, error) {
	now := time.Now()
	nowMs := float64(now.UnixMilli())

	pipe := s.client.TxPipeline()
	cards := make([]*redis.IntCmd, len(increments))
	for i, inc := range increments {
		cutoff := nowMs - float64(inc.Window.Milliseconds())
		// Random member suffix keeps same-millisecond calls distinct.
		member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

		pipe.ZRemRangeByScore(ctx, inc.Key, "0", fmt.Sprintf("%f", cutoff))
		pipe.ZAdd(ctx, inc.Key, redis.Z{Score: nowMs, Member: member})
		cards[i] = pipe.ZCard(ctx, inc.Key)
		pipe.Expire(ctx, inc.Key, inc.Window)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	counts := make([]int64, len(increments))
	for i, cmd := range cards {
		counts[i] = cmd.Val()
	}
	return counts, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
