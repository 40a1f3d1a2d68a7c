package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"chat_sync_service/internal/chat/domain"

	"github.com/go-redis/redis/v8"
)

// RedisPubSub publish chat events to redis channels for other services
// (notification, account status). It is an outbound mirror only.
type RedisPubSub struct {
	client          *redis.Client
	presenceChannel string
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client, presenceChannel string) *RedisPubSub {
	return &RedisPubSub{
		client:          client,
		presenceChannel: presenceChannel,
	}
}

// Publish 將 message 序列化後，發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Emit presence events go to the presence channel, conversation events to chat:room:<id>
func (r *RedisPubSub) Emit(ctx context.Context, evt domain.Event) error {
	channel := r.presenceChannel
	if evt.ConversationID != "" {
		channel = "chat:room:" + evt.ConversationID
	}
	if err := r.Publish(ctx, channel, evt); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
