package refs

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps sequences in Redis with INCR. Values are unique and
// increasing, but a creation that fails after allocation leaves a gap.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter builds a counter storing keys under prefix.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "refs"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// Next implements Counter.
func (c *RedisCounter) Next(ctx context.Context, warehouseCode, operationCode string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, fmt.Errorf("refs: redis counter not initialised")
	}
	next, err := c.client.Incr(ctx, c.key(warehouseCode, operationCode)).Result()
	if err != nil {
		return 0, fmt.Errorf("refs: incr: %w", err)
	}
	return next, nil
}

// Seed raises the counter to at least value, used when moving an existing
// installation from the Postgres counter to Redis.
func (c *RedisCounter) Seed(ctx context.Context, warehouseCode, operationCode string, value int64) error {
	key := c.key(warehouseCode, operationCode)
	script := redis.NewScript(`local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur < tonumber(ARGV[1]) then redis.call('SET', KEYS[1], ARGV[1]) end
return 1`)
	return script.Run(ctx, c.client, []string{key}, value).Err()
}

func (c *RedisCounter) key(warehouseCode, operationCode string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, warehouseCode, operationCode)
}
