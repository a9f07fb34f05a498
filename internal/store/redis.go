package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPins enforces pin uniqueness across all non-finished sessions with a
// SETNX reservation. The TTL is a safety net in case a crashed process never
// releases its pins.
type RedisPins struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPins(client *redis.Client, ttl time.Duration) *RedisPins {
	return &RedisPins{client: client, ttl: ttl}
}

func pinKey(pin string) string {
	return fmt.Sprintf("game:pin:%s", pin)
}

func (r *RedisPins) Reserve(ctx context.Context, pin string) (bool, error) {
	return r.client.SetNX(ctx, pinKey(pin), "1", r.ttl).Result()
}

func (r *RedisPins) Release(ctx context.Context, pin string) error {
	return r.client.Del(ctx, pinKey(pin)).Err()
}
