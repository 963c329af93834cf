package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"sufrah/backend/internal/domain"
)

type RedisStockLevelCache struct {
	client *redis.Client
}

func NewRedisStockLevelCache(addr string, password string, db int) *RedisStockLevelCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockLevelCache{client: client}
}

func (c *RedisStockLevelCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockLevelCache) Close() error {
	return c.client.Close()
}

func key(branchID string) string {
	return "stocklevels:" + branchID
}

func (c *RedisStockLevelCache) Get(ctx context.Context, branchID string) (*domain.StockLevelsResponse, bool, error) {
	val, err := c.client.Get(ctx, key(branchID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.StockLevelsResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisStockLevelCache) Set(ctx context.Context, branchID string, value *domain.StockLevelsResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(branchID), payload, ttl).Err()
}

func (c *RedisStockLevelCache) Invalidate(ctx context.Context, branchID string) error {
	return c.client.Del(ctx, key(branchID)).Err()
}
