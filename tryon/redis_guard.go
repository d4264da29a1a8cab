package tryon

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const refundKeyPrefix = "refund:"

// RedisRefundGuard claims refunds with SETNX so that instances sharing a
// Redis never credit the same task twice.
type RedisRefundGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRefundGuard keeps claims for ttl; zero keeps them forever.
func NewRedisRefundGuard(client *redis.Client, ttl time.Duration) *RedisRefundGuard {
	return &RedisRefundGuard{client: client, ttl: ttl}
}

func (g *RedisRefundGuard) Acquire(ctx context.Context, taskID string) (bool, error) {
	return g.client.SetNX(ctx, refundKeyPrefix+taskID, time.Now().Unix(), g.ttl).Result()
}

func (g *RedisRefundGuard) Release(ctx context.Context, taskID string) error {
	return g.client.Del(ctx, refundKeyPrefix+taskID).Err()
}
