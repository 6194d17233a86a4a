package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

// Frame types sent to clients.
const (
	FrameEvent    = "event"
	FrameSnapshot = "snapshot"
	FramePong     = "pong"
	FrameError    = "error"
)

// Frame is one server-to-client message.
type Frame struct {
	Type   string             `json:"type"`
	Topic  string             `json:"topic,omitempty"`
	Seq    uint64             `json:"seq,omitempty"`
	Event  *event.DomainEvent `json:"event,omitempty"`
	Marks  map[string]uint64  `json:"marks,omitempty"`
	Events []event.Envelope   `json:"events,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func eventFrame(env event.Envelope) Frame {
	ev := env.Event
	return Frame{Type: FrameEvent, Topic: env.Topic, Seq: env.Seq, Event: &ev}
}

// Session is one live connection. Frames are queued on a bounded channel
// drained by the connection's writer; a session that cannot keep up is
// closed rather than allowed to block delivery to others.
type Session struct {
	ID       string
	Identity identity.Identity

	send chan []byte

	mu      sync.Mutex
	closed  bool
	holding bool
	held    []event.Envelope
}

func NewSession(id identity.Identity, buffer int) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	return &Session{
		ID:       uuid.NewString(),
		Identity: id,
		send:     make(chan []byte, buffer),
	}
}

// Send is drained by the connection writer. It is closed when the session ends.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// WriteFrame queues f without blocking. It reports false when the session is
// closed or its queue is full.
func (s *Session) WriteFrame(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trySendLocked(data)
}

func (s *Session) trySendLocked(data []byte) bool {
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// deliver queues a live envelope, or parks it while a snapshot is being built.
func (s *Session) deliver(env event.Envelope, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.holding {
		if len(s.held) >= cap(s.send) {
			return false
		}
		s.held = append(s.held, env)
		return true
	}
	return s.trySendLocked(data)
}

func (s *Session) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = true
}

// release sends the snapshot frame, if any, followed by the parked envelopes
// the snapshot does not already cover. With nil marks every parked envelope
// is sent.
func (s *Session) release(snapshot *Frame, marks map[string]uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := s.held
	s.held = nil
	s.holding = false

	if snapshot != nil {
		data, err := json.Marshal(snapshot)
		if err != nil || !s.trySendLocked(data) {
			return false
		}
	}

	for _, env := range held {
		if mark, ok := marks[env.Topic]; ok && env.Seq <= mark {
			continue
		}
		data, err := json.Marshal(eventFrame(env))
		if err != nil || !s.trySendLocked(data) {
			return false
		}
	}
	return true
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.held = nil
	close(s.send)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
