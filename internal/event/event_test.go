package event

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/identity"
)

func TestCanSubscribe(t *testing.T) {
	student := identity.Identity{UserID: uuid.New(), Role: identity.RoleStudent}
	provider := identity.Identity{UserID: uuid.New(), Role: identity.RoleProvider}

	tests := []struct {
		name  string
		id    identity.Identity
		topic string
		want  bool
	}{
		{"student own topic", student, StudentTopic(student.UserID), true},
		{"student alerts", student, StudentAlertsTopic, true},
		{"student other student", student, StudentTopic(uuid.New()), false},
		{"student provider topic", student, ProviderTopic, false},
		{"provider broadcast", provider, ProviderTopic, true},
		{"provider student topic", provider, StudentTopic(student.UserID), false},
		{"unknown role", identity.Identity{UserID: uuid.New()}, StudentAlertsTopic, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSubscribe(tt.id, tt.topic); got != tt.want {
				t.Fatalf("CanSubscribe(%s) = %v, want %v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestDefaultTopicsAreSubscribable(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleStudent, identity.RoleProvider} {
		id := identity.Identity{UserID: uuid.New(), Role: role}
		topics := DefaultTopics(id)
		if len(topics) == 0 {
			t.Fatalf("%s: expected default topics", role)
		}
		for _, topic := range topics {
			if !CanSubscribe(id, topic) {
				t.Fatalf("%s: default topic %s is not subscribable", role, topic)
			}
		}
	}
}

func TestNewAndDecode(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}
	id := uuid.New()

	ev, err := New(AlertPublished, id, payload{Title: "Flu clinic"}, time.Now())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if ev.Kind != AlertPublished || ev.EntityID != id {
		t.Fatalf("unexpected event header: %+v", ev)
	}

	var got payload
	if err := ev.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title != "Flu clinic" {
		t.Fatalf("expected title to survive, got %q", got.Title)
	}
}
