// Package hub fans committed domain events out to live sessions and brings
// reconnecting sessions back in step with a point-in-time snapshot.
package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

// Sequencer numbers envelopes per topic.
type Sequencer interface {
	Next(ctx context.Context, topic string) (uint64, error)
	Current(ctx context.Context, topic string) (uint64, error)
}

// Bus carries sequenced envelopes to every hub instance, this one included.
type Bus interface {
	Publish(ctx context.Context, env event.Envelope) error
	Run(ctx context.Context, deliver func(event.Envelope)) error
}

// SnapshotSource materializes the current state relevant to a caller as
// events on that caller's default topics. Seq is filled in by the hub.
type SnapshotSource interface {
	Snapshot(ctx context.Context, id identity.Identity) ([]event.Envelope, error)
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func(ctx context.Context, id identity.Identity) ([]event.Envelope, error)

func (f SnapshotFunc) Snapshot(ctx context.Context, id identity.Identity) ([]event.Envelope, error) {
	return f(ctx, id)
}

type outbound struct {
	ev     event.DomainEvent
	topics []string
}

type Hub struct {
	registry   *Registry
	seq        Sequencer
	bus        Bus
	source     SnapshotSource
	queue      chan outbound
	sendBuffer int
	log        zerolog.Logger
}

type Options struct {
	QueueSize  int // pending publishes before new ones are dropped
	SendBuffer int // per-session outbound frames
}

func New(registry *Registry, seq Sequencer, bus Bus, source SnapshotSource, opts Options, logger zerolog.Logger) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		registry:   registry,
		seq:        seq,
		bus:        bus,
		source:     source,
		queue:      make(chan outbound, opts.QueueSize),
		sendBuffer: opts.SendBuffer,
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Publish queues ev for every topic and returns at once. The caller's context
// only scopes the call, not the delivery.
func (h *Hub) Publish(_ context.Context, ev event.DomainEvent, topics ...string) {
	if len(topics) == 0 {
		return
	}
	select {
	case h.queue <- outbound{ev: ev, topics: topics}:
	default:
		h.log.Error().
			Str("kind", string(ev.Kind)).
			Str("entity_id", ev.EntityID.String()).
			Msg("publish queue full, dropping event")
	}
}

// Run sequences queued events onto the bus and delivers what the bus hands
// back until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.bus.Run(ctx, h.Deliver)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case out := <-h.queue:
				h.dispatch(ctx, out)
			}
		}
	})

	return g.Wait()
}

func (h *Hub) dispatch(ctx context.Context, out outbound) {
	for _, topic := range out.topics {
		n, err := h.seq.Next(ctx, topic)
		if err != nil {
			h.log.Error().Err(err).Str("topic", topic).Str("kind", string(out.ev.Kind)).Msg("sequence event")
			continue
		}
		env := event.Envelope{Topic: topic, Seq: n, Event: out.ev}
		if err := h.bus.Publish(ctx, env); err != nil {
			h.log.Error().Err(err).Str("topic", topic).Uint64("seq", n).Msg("publish envelope")
		}
	}
}

// Deliver fans env out to the sessions subscribed to its topic. A session
// that cannot accept the frame is pruned; the rest still receive it.
func (h *Hub) Deliver(env event.Envelope) {
	sessions := h.registry.Sessions(env.Topic)
	if len(sessions) == 0 {
		return
	}

	data, err := json.Marshal(eventFrame(env))
	if err != nil {
		h.log.Error().Err(err).Str("topic", env.Topic).Msg("marshal frame")
		return
	}

	for _, s := range sessions {
		if !s.deliver(env, data) {
			h.log.Warn().
				Str("session_id", s.ID).
				Str("user_id", s.Identity.UserID.String()).
				Str("topic", env.Topic).
				Msg("session cannot keep up, disconnecting")
			h.Disconnect(s)
		}
	}
}

// Connect registers a new session for id. It receives nothing until it
// subscribes or asks for a snapshot.
func (h *Hub) Connect(id identity.Identity) *Session {
	s := NewSession(id, h.sendBuffer)
	h.registry.Add(s)
	h.log.Debug().
		Str("session_id", s.ID).
		Str("user_id", id.UserID.String()).
		Str("role", string(id.Role)).
		Msg("session connected")
	return s
}

func (h *Hub) Disconnect(s *Session) {
	if h.registry.Remove(s) {
		h.log.Debug().Str("session_id", s.ID).Msg("session disconnected")
	}
	s.Close()
}

func (h *Hub) Subscribe(s *Session, topic string) error {
	if !event.CanSubscribe(s.Identity, topic) {
		return apperr.Unauthorized("cannot subscribe to %s", topic)
	}
	if !h.registry.Subscribe(s, topic) {
		return apperr.NotFound("session")
	}
	return nil
}

// Snapshot subscribes s to its default topics and sends the current state
// followed by every live event the snapshot does not already reflect. Events
// that arrive while the snapshot is built are parked; those numbered at or
// below the captured marks are dropped on release.
func (h *Hub) Snapshot(ctx context.Context, s *Session) error {
	topics := event.DefaultTopics(s.Identity)
	if len(topics) == 0 {
		return apperr.Unauthorized("no topics for role %s", s.Identity.Role)
	}

	s.hold()
	if !h.registry.Subscribe(s, topics...) {
		s.release(nil, nil)
		return apperr.NotFound("session")
	}

	marks := make(map[string]uint64, len(topics))
	for _, topic := range topics {
		n, err := h.seq.Current(ctx, topic)
		if err != nil {
			s.release(nil, nil)
			return fmt.Errorf("read mark for %s: %w", topic, err)
		}
		marks[topic] = n
	}

	events, err := h.source.Snapshot(ctx, s.Identity)
	if err != nil {
		s.release(nil, nil)
		return err
	}
	for i := range events {
		events[i].Seq = marks[events[i].Topic]
	}

	frame := &Frame{Type: FrameSnapshot, Marks: marks, Events: events}
	if !s.release(frame, marks) {
		h.log.Warn().Str("session_id", s.ID).Msg("snapshot overflowed session queue, disconnecting")
		h.Disconnect(s)
		return apperr.Timeout(fmt.Errorf("session %s queue full", s.ID))
	}
	return nil
}
