package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores processed webhook event ids in Redis so all instances
// can avoid applying the same delivery twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
// The TTL only needs to outlive the provider's redelivery window.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(eventID string) string {
	return "webhook:" + eventID
}

// Add records the event id if it does not already exist. It returns true when
// the id was newly added.
func (r *RedisDeduper) Add(ctx context.Context, eventID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(eventID), 1, r.ttl).Result()
}

// Remove deletes a previously recorded id. It is used when processing fails
// so the provider's retry is not swallowed.
func (r *RedisDeduper) Remove(ctx context.Context, eventID string) error {
	return r.client.Del(ctx, r.key(eventID)).Err()
}
