// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimitRepository 定义了固定窗口限流计数器的操作接口。
type RateLimitRepository interface {
	// Incr 把 key 在当前窗口内的计数加一并返回新值，窗口结束后计数自动过期。
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type redisRateLimitRepository struct {
	redisClient *redis.Client
}

// NewRateLimitRepository 创建一个新的 RateLimitRepository 实例。
func NewRateLimitRepository(redisClient *redis.Client) RateLimitRepository {
	return &redisRateLimitRepository{redisClient: redisClient}
}

func (r *redisRateLimitRepository) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	count, err := r.redisClient.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	// 只在窗口内第一次计数时设置过期时间
	if count == 1 {
		if err := r.redisClient.Expire(ctx, redisKey, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}
	return count, nil
}
