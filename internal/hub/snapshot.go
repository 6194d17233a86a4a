package hub

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/alert"
	"github.com/hackgods/campus-care-coordination/internal/appointment"
	"github.com/hackgods/campus-care-coordination/internal/emergency"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

type AppointmentReader interface {
	Upcoming(ctx context.Context, studentID uuid.UUID) ([]appointment.Appointment, error)
	AwaitingDecision(ctx context.Context) ([]appointment.Appointment, error)
}

type EmergencyReader interface {
	Pending(ctx context.Context) ([]emergency.AmbulanceRequest, error)
	PendingForUser(ctx context.Context, userID uuid.UUID) ([]emergency.AmbulanceRequest, error)
}

type AlertReader interface {
	Active(ctx context.Context) ([]alert.HealthAlert, error)
}

// Materializer builds snapshots from the store. A student sees their own
// upcoming appointments and pending ambulance requests plus every active
// alert. A provider sees appointments awaiting a decision, all pending
// ambulance requests, and active alerts.
//
// Snapshots carry live entities only. An entity that reached a terminal
// status is absent, so a client replaces what it holds with the snapshot
// rather than merging into it.
type Materializer struct {
	appointments AppointmentReader
	emergencies  EmergencyReader
	alerts       AlertReader
	now          func() time.Time
}

func NewMaterializer(appointments AppointmentReader, emergencies EmergencyReader, alerts AlertReader) *Materializer {
	return &Materializer{
		appointments: appointments,
		emergencies:  emergencies,
		alerts:       alerts,
		now:          time.Now,
	}
}

func (m *Materializer) Snapshot(ctx context.Context, id identity.Identity) ([]event.Envelope, error) {
	var (
		appts       []appointment.Appointment
		requests    []emergency.AmbulanceRequest
		entityTopic string
		alertTopic  string
		err         error
	)

	switch id.Role {
	case identity.RoleStudent:
		entityTopic = event.StudentTopic(id.UserID)
		alertTopic = event.StudentAlertsTopic
		if appts, err = m.appointments.Upcoming(ctx, id.UserID); err != nil {
			return nil, err
		}
		if requests, err = m.emergencies.PendingForUser(ctx, id.UserID); err != nil {
			return nil, err
		}
	case identity.RoleProvider:
		entityTopic = event.ProviderTopic
		alertTopic = event.ProviderTopic
		if appts, err = m.appointments.AwaitingDecision(ctx); err != nil {
			return nil, err
		}
		if requests, err = m.emergencies.Pending(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	alerts, err := m.alerts.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	out := make([]event.Envelope, 0, len(appts)+len(requests)+len(alerts))
	add := func(topic string, kind event.Kind, entityID uuid.UUID, entity any) error {
		ev, err := event.New(kind, entityID, entity, now)
		if err != nil {
			return err
		}
		out = append(out, event.Envelope{Topic: topic, Event: ev})
		return nil
	}

	for i := range appts {
		if err := add(entityTopic, event.AppointmentChanged, appts[i].ID, &appts[i]); err != nil {
			return nil, err
		}
	}
	for i := range requests {
		if err := add(entityTopic, event.AmbulanceRequestCreated, requests[i].ID, &requests[i]); err != nil {
			return nil, err
		}
	}
	for i := range alerts {
		if err := add(alertTopic, event.AlertPublished, alerts[i].ID, &alerts[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
