package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"theratreat/models"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes notifications as JSON on a pub/sub channel.
type RedisPublisher struct {
	conn    redis.Cmdable
	channel string
}

func NewRedisPublisher(conn redis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{conn: conn, channel: channel}
}

func (p *RedisPublisher) Send(ctx context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.conn.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
