package classifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores successful classifications keyed by text digest.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, tags []string)
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache keeps tags as JSON strings with a TTL. Cache errors are treated as misses.
func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]string, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, false
	}
	return tags, true
}

func (c *redisCache) Set(ctx context.Context, key string, tags []string) {
	payload, err := json.Marshal(tags)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, payload, c.ttl).Err()
}
