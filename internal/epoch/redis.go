package epoch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisCounter broadcasts the watermark epoch across every replica
// sharing a Redis instance, for deployments where actor replicas live in
// separate processes/pods. Grounded on the teacher's fabric.RedisClient
// pattern: a minimal interface any Redis driver satisfies, rather than
// importing go-redis types directly into call sites that only need
// Get/Set semantics.
type RedisCounter struct {
	client Client
	key    string
}

// Client is the minimal surface RedisCounter needs, so callers can wrap
// any go-redis-compatible client without this package depending on the
// concrete driver type throughout.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// NewRedisCounter wraps a *redis.Client into the minimal Client
// interface and returns a Source keyed by key.
func NewRedisCounter(rdb *redis.Client, key string) *RedisCounter {
	return &RedisCounter{client: &goRedisAdapter{rdb}, key: key}
}

func (c *RedisCounter) Current(ctx context.Context) (uint64, error) {
	s, err := c.client.Get(ctx, c.key)
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("epoch: redis GET %s: %w", c.key, err)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("epoch: parsing stored epoch: %w", err)
	}
	return v, nil
}

func (c *RedisCounter) Advance(ctx context.Context, epoch uint64) error {
	cur, err := c.Current(ctx)
	if err != nil {
		return err
	}
	if epoch <= cur {
		return nil
	}
	if err := c.client.Set(ctx, c.key, strconv.FormatUint(epoch, 10)); err != nil {
		return fmt.Errorf("epoch: redis SET %s: %w", c.key, err)
	}
	return nil
}

// goRedisAdapter narrows *redis.Client down to the Client interface.
type goRedisAdapter struct {
	rdb *redis.Client
}

func (a *goRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	return a.rdb.Get(ctx, key).Result()
}

func (a *goRedisAdapter) Set(ctx context.Context, key string, value string) error {
	return a.rdb.Set(ctx, key, value, 0).Err()
}
