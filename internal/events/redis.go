package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// RedisBroker carries envelopes over a Redis pub/sub channel so stateless
// API processes and socket-holding gateways can scale apart.
type RedisBroker struct {
	client  redis.UniversalClient
	channel string
	logger  *log.Logger
}

func NewRedisBroker(client redis.UniversalClient, channel string, logger *log.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroker{client: client, channel: channel, logger: logger.WithPrefix("broker")}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	return nil
}

// Subscribe blocks until ctx is done. Malformed messages are logged and
// skipped.
func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("Subscribed", "channel", b.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("Dropping malformed envelope", "error", err)
				continue
			}
			handler(env)
		}
	}
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error {
	return nil
}
