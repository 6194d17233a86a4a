package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/event"
)

const busChannel = "care:events"

// Bus carries sequenced envelopes between instances over Redis pub/sub.
// Every instance receives every envelope and fans it out to its own sessions.
type Bus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewBus(client *redis.Client, logger zerolog.Logger) *Bus {
	return &Bus{
		client: client,
		log:    logger.With().Str("component", "redis-bus").Logger(),
	}
}

func (b *Bus) Publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, busChannel, data).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Run subscribes and calls deliver for each envelope until ctx is done.
func (b *Bus) Run(ctx context.Context, deliver func(event.Envelope)) error {
	sub := b.client.Subscribe(ctx, busChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", busChannel, err)
	}
	b.log.Info().Str("channel", busChannel).Msg("subscribed to event bus")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env event.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			deliver(env)
		}
	}
}
