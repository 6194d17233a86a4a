package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

const awaitingDecisionLimit = 200

type CreateInput struct {
	Service   string
	StartTime time.Time
	Notes     string
}

type RescheduleInput struct {
	StartTime time.Time
	// Service is optional; empty keeps the current service.
	Service string
}

type Service struct {
	repo      Repository
	publisher event.Publisher
	cfg       config.Config
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, publisher event.Publisher, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.With().Str("component", "appointment").Logger(),
		now:       time.Now,
	}
}

// Create books a new PENDING appointment for the calling student.
func (s *Service) Create(ctx context.Context, actor identity.Identity, in CreateInput) (*Appointment, error) {
	if !actor.IsStudent() {
		return nil, apperr.Unauthorized("only students can book appointments")
	}

	svc, minutes, ok := LookupOffering(in.Service)
	if !ok {
		return nil, apperr.Validation("unknown service %q", in.Service)
	}

	now := s.now().UTC()
	if !in.StartTime.After(now) {
		return nil, apperr.Validation("startTime must be in the future")
	}

	appt := newPending(actor.UserID, svc, minutes, in.StartTime, in.Notes, now)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, apperr.FromStore("create appointment", err)
	}

	s.announce(ctx, appt)
	return appt, nil
}

func (s *Service) ConfirmOrDeny(ctx context.Context, id uuid.UUID, actor identity.Identity, d Decision) (*Appointment, error) {
	if d != DecisionConfirm && d != DecisionDeny {
		return nil, apperr.Validation("decision must be CONFIRMED or DENIED")
	}
	return s.mutate(ctx, "decide appointment", id, func(a *Appointment) (bool, error) {
		return true, a.decide(actor, d, s.now().UTC())
	})
}

func (s *Service) AssignSupport(ctx context.Context, id uuid.UUID, actor identity.Identity, supportID uuid.UUID) (*Appointment, error) {
	if supportID == uuid.Nil {
		return nil, apperr.Validation("supportId is required")
	}
	return s.mutate(ctx, "assign support", id, func(a *Appointment) (bool, error) {
		return a.assignSupport(actor, supportID, s.now().UTC())
	})
}

func (s *Service) SetLocation(ctx context.Context, id uuid.UUID, actor identity.Identity, loc Location) (*Appointment, error) {
	if !loc.Valid() {
		return nil, apperr.Validation("unknown location %q", loc)
	}
	return s.mutate(ctx, "set location", id, func(a *Appointment) (bool, error) {
		return a.setLocation(actor, loc, s.now().UTC())
	})
}

func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actor identity.Identity, in RescheduleInput) (*Appointment, error) {
	if !in.StartTime.After(s.now()) {
		return nil, apperr.Validation("new startTime must be in the future")
	}

	var svc Offering
	var minutes int
	if in.Service != "" {
		var ok bool
		if svc, minutes, ok = LookupOffering(in.Service); !ok {
			return nil, apperr.Validation("unknown service %q", in.Service)
		}
	}

	return s.mutate(ctx, "reschedule appointment", id, func(a *Appointment) (bool, error) {
		nextSvc, nextMinutes := a.Service, a.Duration
		if svc != "" {
			nextSvc, nextMinutes = svc, minutes
		}
		return true, a.reschedule(actor, in.StartTime, nextSvc, nextMinutes, s.now().UTC())
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Identity) (*Appointment, error) {
	return s.mutate(ctx, "cancel appointment", id, func(a *Appointment) (bool, error) {
		return true, a.cancel(actor, s.now().UTC())
	})
}

// CheckIn marks a confirmed appointment as attended. Checking in twice
// returns the stored record unchanged.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, actor identity.Identity) (*Appointment, error) {
	return s.mutate(ctx, "check in", id, func(a *Appointment) (bool, error) {
		return a.checkIn(actor, s.cfg.CheckInWindow, s.now().UTC())
	})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor identity.Identity) (*Appointment, error) {
	return s.mutate(ctx, "complete appointment", id, func(a *Appointment) (bool, error) {
		return true, a.complete(actor, s.now().UTC())
	})
}

// Get returns one appointment. Students only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor identity.Identity) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError("get appointment", err)
	}
	if actor.IsStudent() && appt.StudentID != actor.UserID {
		return nil, apperr.Unauthorized("appointment belongs to another student")
	}
	return appt, nil
}

// List returns the caller's view: a student's own bookings, or the
// provider queue of appointments awaiting a decision.
func (s *Service) List(ctx context.Context, actor identity.Identity, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var (
		list []Appointment
		err  error
	)
	if actor.IsProvider() {
		list, err = s.repo.ListAwaitingDecision(ctx, limit)
	} else {
		list, err = s.repo.ListByStudent(ctx, actor.UserID, limit, offset)
	}
	if err != nil {
		return nil, apperr.FromStore("list appointments", err)
	}
	return list, nil
}

// Upcoming is the appointment part of a student snapshot. Appointments still
// inside their check-in window count as upcoming.
func (s *Service) Upcoming(ctx context.Context, studentID uuid.UUID) ([]Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	list, err := s.repo.ListUpcoming(ctx, studentID, s.now().UTC().Add(-s.cfg.CheckInWindow))
	if err != nil {
		return nil, apperr.FromStore("list upcoming appointments", err)
	}
	return list, nil
}

// AwaitingDecision is the appointment part of a provider snapshot.
func (s *Service) AwaitingDecision(ctx context.Context) ([]Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	list, err := s.repo.ListAwaitingDecision(ctx, awaitingDecisionLimit)
	if err != nil {
		return nil, apperr.FromStore("list appointments awaiting decision", err)
	}
	return list, nil
}

func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, fn MutateFunc) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	appt, changed, err := s.repo.Mutate(ctx, id, fn)
	if err != nil {
		return nil, s.storeError(op, err)
	}

	if changed {
		s.announce(ctx, appt)
	}
	return appt, nil
}

func (s *Service) storeError(op string, err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return apperr.NotFound("appointment")
	}
	return apperr.FromStore(op, err)
}

// announce runs only after the store has committed.
func (s *Service) announce(ctx context.Context, appt *Appointment) {
	ev, err := event.New(event.AppointmentChanged, appt.ID, appt, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("build appointment event")
		return
	}
	s.publisher.Publish(ctx, ev, event.StudentTopic(appt.StudentID), event.ProviderTopic)
}
