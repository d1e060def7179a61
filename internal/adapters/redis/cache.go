package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IncrWindow increments the counter behind key and starts its window on the
// first hit. It returns the count within the current window.
func (c *Cache) IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, period)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "increment window")
	}
	return incr.Val(), nil
}
