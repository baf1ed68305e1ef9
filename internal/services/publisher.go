package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"concurseiro-backend/internal/models"
)

// Publisher fans WebSocket events out through Redis so any instance holding
// the user's socket can deliver them.
type Publisher struct {
	redis *redis.Client
	log   *zap.Logger
}

func NewPublisher(redisClient *redis.Client, log *zap.Logger) *Publisher {
	return &Publisher{redis: redisClient, log: log}
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

// PublishUpdate is best effort; failures are only logged.
func (p *Publisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	if p == nil || p.redis == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("failed to encode ws message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if err := p.redis.Publish(ctx, UserChannel(userID), string(data)).Err(); err != nil {
		p.log.Warn("failed to publish ws message", zap.String("type", msg.Type), zap.Error(err))
	}
}
