// internal/cache/redis/client.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kkuzar/pos_hub/internal/cache"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"
)

var ErrDisabled = errors.New("redis disabled")

type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCache creates a new Redis cache client and checks the connection.
func NewRedisCache(cfg *config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return newWithClient(rdb, cfg.Prefix, logger), nil
}

func newWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, logger: logger.Named("redis")}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// --- Key Generation ---
func (c *RedisCache) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", c.prefix, userID)
}
func (c *RedisCache) bucketKey(key models.BucketKey) string {
	return fmt.Sprintf("%smetrics:%s", c.prefix, key)
}

// --- User Methods ---
func (c *RedisCache) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := c.getJSON(ctx, c.userKey(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *RedisCache) SetUser(ctx context.Context, user *models.User, expiration time.Duration) error {
	return c.setJSON(ctx, c.userKey(user.ID), user, expiration)
}

func (c *RedisCache) DeleteUser(ctx context.Context, userID string) error {
	key := c.userKey(userID)
	if err := c.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		c.logger.Error("Redis DEL failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// --- Metrics Buckets ---
func (c *RedisCache) GetBucket(ctx context.Context, key models.BucketKey) (*models.MetricsBucket, error) {
	var bucket models.MetricsBucket
	if err := c.getJSON(ctx, c.bucketKey(key), &bucket); err != nil {
		return nil, err
	}
	return &bucket, nil
}

func (c *RedisCache) SetBucket(ctx context.Context, key models.BucketKey, bucket *models.MetricsBucket, expiration time.Duration) error {
	return c.setJSON(ctx, c.bucketKey(key), bucket, expiration)
}

func (c *RedisCache) getJSON(ctx context.Context, key string, dst interface{}) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return cache.ErrNotFound
	} else if err != nil {
		c.logger.Error("Redis GET failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		c.logger.Error("Redis JSON unmarshal failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v interface{}, expiration time.Duration) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, val, expiration).Err(); err != nil {
		c.logger.Error("Redis SET failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
