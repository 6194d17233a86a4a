// Package event defines the domain events announced after committed writes
// and the role-scoped topics they are fanned out on.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/identity"
)

type Kind string

const (
	AppointmentChanged        Kind = "AppointmentChanged"
	AmbulanceRequestCreated   Kind = "AmbulanceRequestCreated"
	AmbulanceRequestResolved  Kind = "AmbulanceRequestResolved"
	AmbulanceRequestCancelled Kind = "AmbulanceRequestCancelled"
	AlertPublished            Kind = "AlertPublished"
	AlertExpired              Kind = "AlertExpired"
)

const (
	ProviderTopic      = "provider:*"
	StudentAlertsTopic = "alerts:student"
	studentTopicPrefix = "student:"
)

// DomainEvent is a tagged union over Kind. Data holds the full entity as it
// was committed.
type DomainEvent struct {
	Kind       Kind            `json:"kind"`
	EntityID   uuid.UUID       `json:"entityId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Envelope is a DomainEvent placed on a topic. Seq increases by one per
// event on that topic.
type Envelope struct {
	Topic string      `json:"topic"`
	Seq   uint64      `json:"seq"`
	Event DomainEvent `json:"event"`
}

// Publisher announces committed state. Implementations must not block the
// caller on subscriber delivery.
type Publisher interface {
	Publish(ctx context.Context, ev DomainEvent, topics ...string)
}

func New(kind Kind, entityID uuid.UUID, entity any, at time.Time) (DomainEvent, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return DomainEvent{
		Kind:       kind,
		EntityID:   entityID,
		OccurredAt: at.UTC(),
		Data:       data,
	}, nil
}

// Decode unmarshals the event payload into dst.
func (e DomainEvent) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

func StudentTopic(id uuid.UUID) string {
	return studentTopicPrefix + id.String()
}

// DefaultTopics are the topics a session of this identity is subscribed to
// when it resynchronizes.
func DefaultTopics(id identity.Identity) []string {
	switch id.Role {
	case identity.RoleStudent:
		return []string{StudentTopic(id.UserID), StudentAlertsTopic}
	case identity.RoleProvider:
		return []string{ProviderTopic}
	}
	return nil
}

// CanSubscribe reports whether id may receive frames from topic.
func CanSubscribe(id identity.Identity, topic string) bool {
	switch id.Role {
	case identity.RoleStudent:
		if topic == StudentAlertsTopic {
			return true
		}
		rest, ok := strings.CutPrefix(topic, studentTopicPrefix)
		return ok && rest == id.UserID.String()
	case identity.RoleProvider:
		return topic == ProviderTopic
	}
	return false
}
