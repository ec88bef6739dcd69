package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"blindspot-alarm/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Broadcaster 新事件实时广播器
// 通过 Redis PUBLISH 向在线观察端（看板推送通道）发一条 fire-and-forget
// 通知；发布失败只记日志，不影响事件记录本身
type Broadcaster struct {
	redisClient *redis.Client
	channel     string
	logger      *zap.Logger
}

// NewBroadcaster 创建广播器
func NewBroadcaster(redisClient *redis.Client, channel string, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		channel:     channel,
		logger:      logger,
	}
}

// PublishIncidence 广播一条新事件
func (b *Broadcaster) PublishIncidence(ctx context.Context, incidence *models.Incidence) error {
	if incidence == nil {
		return fmt.Errorf("incidence is required")
	}

	payload, err := json.Marshal(incidence)
	if err != nil {
		return fmt.Errorf("failed to marshal incidence: %w", err)
	}

	if err := b.redisClient.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish incidence: %w", err)
	}

	b.logger.Debug("Incidence broadcast published",
		zap.String("channel", b.channel),
		zap.String("incidence_id", incidence.IncidenceID),
	)

	return nil
}
