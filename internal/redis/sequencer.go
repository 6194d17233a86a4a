package redisclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Sequencer hands out per-topic sequence numbers shared by every instance
// pointed at the same Redis.
type Sequencer struct {
	client *redis.Client
}

func NewSequencer(client *redis.Client) *Sequencer {
	return &Sequencer{client: client}
}

func seqKey(topic string) string {
	return "seq:" + topic
}

func (s *Sequencer) Next(ctx context.Context, topic string) (uint64, error) {
	n, err := s.client.Incr(ctx, seqKey(topic)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", seqKey(topic), err)
	}
	return n, nil
}

// Current returns the last number handed out for topic, 0 if none.
func (s *Sequencer) Current(ctx context.Context, topic string) (uint64, error) {
	n, err := s.client.Get(ctx, seqKey(topic)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", seqKey(topic), err)
	}
	return n, nil
}
