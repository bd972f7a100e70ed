package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventsChannel is the Redis pub/sub channel carrying capture events for
// external consumers (dashboards, alerting).
const EventsChannel = "streamget:events"

// RedisPublisher mirrors hub events to a Redis channel.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a Redis event mirror.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, logger: logger}
}

// PublishEvent sends one event to the events channel.
func (p *RedisPublisher) PublishEvent(ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(context.Background(), EventsChannel, raw).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
