package hub

import (
	"context"
	"sync"

	"github.com/hackgods/campus-care-coordination/internal/event"
)

// MemorySequencer numbers topics within one process.
type MemorySequencer struct {
	mu   sync.Mutex
	seqs map[string]uint64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{seqs: make(map[string]uint64)}
}

func (m *MemorySequencer) Next(_ context.Context, topic string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[topic]++
	return m.seqs[topic], nil
}

func (m *MemorySequencer) Current(_ context.Context, topic string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seqs[topic], nil
}

// LocalBus loops envelopes back to the hub that published them. It serves a
// single instance; replicas need the Redis bus.
type LocalBus struct {
	ch chan event.Envelope
}

func NewLocalBus(size int) *LocalBus {
	if size <= 0 {
		size = 1024
	}
	return &LocalBus{ch: make(chan event.Envelope, size)}
}

func (b *LocalBus) Publish(ctx context.Context, env event.Envelope) error {
	select {
	case b.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Run(ctx context.Context, deliver func(event.Envelope)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-b.ch:
			deliver(env)
		}
	}
}
