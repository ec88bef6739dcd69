package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// FlagSource 标志位来源（由注册表仓库实现）
type FlagSource interface {
	IsFlaggedDevice(ctx context.Context, deviceID string) (bool, error)
	IsFlaggedBeacon(ctx context.Context, beaconID string) (bool, error)
}

// FlagCache 注册表标志位的 Redis 读穿缓存
// 每条遥测事件都要做若干次标志位查询，缓存短 TTL 吸收热点读；
// Redis 不可用时退回数据库查询，数据库错误原样上抛
type FlagCache struct {
	source      FlagSource
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewFlagCache 创建标志位缓存
func NewFlagCache(source FlagSource, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *FlagCache {
	return &FlagCache{
		source:      source,
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

// IsFlaggedDevice 查询设备盲区标志（优先走缓存）
func (c *FlagCache) IsFlaggedDevice(ctx context.Context, deviceID string) (bool, error) {
	return c.lookup(ctx, fmt.Sprintf("blindspot:flag:device:%s", deviceID), func() (bool, error) {
		return c.source.IsFlaggedDevice(ctx, deviceID)
	})
}

// IsFlaggedBeacon 查询信标盲区标志（优先走缓存）
func (c *FlagCache) IsFlaggedBeacon(ctx context.Context, beaconID string) (bool, error) {
	return c.lookup(ctx, fmt.Sprintf("blindspot:flag:beacon:%s", beaconID), func() (bool, error) {
		return c.source.IsFlaggedBeacon(ctx, beaconID)
	})
}

// lookup 读穿查询：缓存命中直接返回，未命中查来源并回填
func (c *FlagCache) lookup(ctx context.Context, key string, load func() (bool, error)) (bool, error) {
	if c.redisClient != nil {
		val, err := c.redisClient.Get(ctx, key).Result()
		if err == nil {
			return val == "1", nil
		}
		if err != redis.Nil {
			// 缓存故障不挡主流程，退回数据库
			c.logger.Warn("Flag cache read failed, falling back to store",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	flagged, err := load()
	if err != nil {
		return false, err
	}

	if c.redisClient != nil {
		cached := "0"
		if flagged {
			cached = "1"
		}
		if err := c.redisClient.Set(ctx, key, cached, c.ttl).Err(); err != nil {
			c.logger.Debug("Flag cache write failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	return flagged, nil
}
