package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/identity"
)

type userKey struct {
	userID uuid.UUID
	role   identity.Role
}

// Registry tracks live sessions by (user, role) and by topic. One user may
// hold several sessions at once, one per open tab; each is indexed
// separately and receives the same fan-out.
type Registry struct {
	mu     sync.RWMutex
	users  map[userKey]map[*Session]struct{}
	topics map[string]map[*Session]struct{}
	subs   map[*Session]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[userKey]map[*Session]struct{}),
		topics: make(map[string]map[*Session]struct{}),
		subs:   make(map[*Session]map[string]struct{}),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[s]; ok {
		return
	}
	k := userKey{s.Identity.UserID, s.Identity.Role}
	if r.users[k] == nil {
		r.users[k] = make(map[*Session]struct{})
	}
	r.users[k][s] = struct{}{}
	r.subs[s] = make(map[string]struct{})
}

// Remove drops s and all of its subscriptions. It reports whether s was present.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, ok := r.subs[s]
	if !ok {
		return false
	}
	for topic := range topics {
		if set, ok := r.topics[topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(r.topics, topic)
			}
		}
	}
	delete(r.subs, s)

	k := userKey{s.Identity.UserID, s.Identity.Role}
	if set, ok := r.users[k]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.users, k)
		}
	}
	return true
}

// Subscribe adds topics to a registered session. Repeated topics are ignored.
func (r *Registry) Subscribe(s *Session, topics ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subs[s]
	if !ok {
		return false
	}
	for _, topic := range topics {
		subs[topic] = struct{}{}
		if r.topics[topic] == nil {
			r.topics[topic] = make(map[*Session]struct{})
		}
		r.topics[topic][s] = struct{}{}
	}
	return true
}

func (r *Registry) Sessions(topic string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.topics[topic]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) SessionsFor(userID uuid.UUID, role identity.Role) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userKey{userID, role}]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Topics(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.subs[s]))
	for topic := range r.subs[s] {
		out = append(out, topic)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) TopicCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
