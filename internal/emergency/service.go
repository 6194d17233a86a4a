package emergency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

const listLimit = 100

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
		log:       logger.With().Str("component", "emergency").Logger(),
		now:       time.Now,
	}
}

func validateLocation(in SubmitInput) (*float64, *float64, *string, error) {
	address := strings.TrimSpace(in.Address)
	hasCoords := in.Latitude != nil || in.Longitude != nil

	switch {
	case hasCoords && address != "":
		return nil, nil, nil, apperr.Validation("give either coordinates or an address, not both")
	case hasCoords:
		if in.Latitude == nil || in.Longitude == nil {
			return nil, nil, nil, apperr.Validation("latitude and longitude must be given together")
		}
		if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
			return nil, nil, nil, apperr.Validation("coordinates out of range")
		}
		return in.Latitude, in.Longitude, nil, nil
	case address != "":
		return nil, nil, &address, nil
	}
	return nil, nil, nil, apperr.Validation("a location is required: coordinates or an address")
}

// Submit files a PENDING ambulance request. A user may submit again only once
// the cooldown since their last successful submission has elapsed.
func (s *Service) Submit(ctx context.Context, actor identity.Identity, in SubmitInput) (*AmbulanceRequest, error) {
	if !actor.IsStudent() {
		return nil, apperr.Unauthorized("only students can request an ambulance")
	}

	lat, lon, address, err := validateLocation(in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &AmbulanceRequest{
		ID:        uuid.New(),
		UserID:    actor.UserID,
		Latitude:  lat,
		Longitude: lon,
		Address:   address,
		Details:   strings.TrimSpace(in.Details),
		Status:    StatusPending,
		CreatedAt: now,
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	err = s.repo.CreateGated(ctx, req, func(last *time.Time) error {
		if last == nil {
			return nil
		}
		if elapsed := now.Sub(*last); elapsed < s.cfg.AmbulanceCooldown {
			return apperr.RateLimited(s.cfg.AmbulanceCooldown - elapsed)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore("submit ambulance request", err)
	}

	s.log.Info().
		Str("request_id", req.ID.String()).
		Str("user_id", req.UserID.String()).
		Msg("ambulance request submitted")

	s.announce(ctx, event.AmbulanceRequestCreated, req)
	return req, nil
}

// Resolve closes a pending request. Resolving an already resolved request
// returns the stored record and emits nothing, since providers race on it.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actor identity.Identity) (*AmbulanceRequest, error) {
	if !actor.IsProvider() {
		return nil, apperr.Unauthorized("only providers can resolve ambulance requests")
	}

	return s.mutate(ctx, "resolve ambulance request", event.AmbulanceRequestResolved, id, func(r *AmbulanceRequest) (bool, error) {
		switch r.Status {
		case StatusResolved:
			return false, nil
		case StatusPending:
		default:
			return false, apperr.InvalidTransition(string(r.Status), "only pending requests can be resolved")
		}

		at := s.now().UTC()
		by := actor.UserID
		r.Status = StatusResolved
		r.ResolvedAt = &at
		r.ResolvedBy = &by
		return true, nil
	})
}

// Cancel withdraws the caller's own pending request. The cooldown still
// counts from the original submission.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Identity) (*AmbulanceRequest, error) {
	return s.mutate(ctx, "cancel ambulance request", event.AmbulanceRequestCancelled, id, func(r *AmbulanceRequest) (bool, error) {
		if !actor.IsStudent() || r.UserID != actor.UserID {
			return false, apperr.Unauthorized("only the requesting student can cancel")
		}
		if r.Status != StatusPending {
			return false, apperr.InvalidTransition(string(r.Status), "only pending requests can be cancelled")
		}
		r.Status = StatusCancelled
		return true, nil
	})
}

// List returns pending requests for providers and the caller's own requests
// for students.
func (s *Service) List(ctx context.Context, actor identity.Identity) ([]AmbulanceRequest, error) {
	if actor.IsProvider() {
		return s.Pending(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	list, err := s.repo.ListByUser(ctx, actor.UserID, listLimit)
	if err != nil {
		return nil, apperr.FromStore("list ambulance requests", err)
	}
	return list, nil
}

func (s *Service) Pending(ctx context.Context) ([]AmbulanceRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	list, err := s.repo.ListPending(ctx, listLimit)
	if err != nil {
		return nil, apperr.FromStore("list pending ambulance requests", err)
	}
	return list, nil
}

// PendingForUser is the ambulance part of a student snapshot.
func (s *Service) PendingForUser(ctx context.Context, userID uuid.UUID) ([]AmbulanceRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	list, err := s.repo.ListByUser(ctx, userID, listLimit)
	if err != nil {
		return nil, apperr.FromStore("list user ambulance requests", err)
	}

	pending := list[:0]
	for _, r := range list {
		if r.Status == StatusPending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *Service) mutate(ctx context.Context, op string, kind event.Kind, id uuid.UUID, fn MutateFunc) (*AmbulanceRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	req, changed, err := s.repo.Mutate(ctx, id, fn)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, apperr.NotFound("ambulance request")
		}
		return nil, apperr.FromStore(op, err)
	}

	if changed {
		s.announce(ctx, kind, req)
	}
	return req, nil
}

// announce fans out to every provider and to the requesting student.
func (s *Service) announce(ctx context.Context, kind event.Kind, req *AmbulanceRequest) {
	ev, err := event.New(kind, req.ID, req, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("request_id", req.ID.String()).Msg("build ambulance event")
		return
	}
	s.publisher.Publish(ctx, ev, event.ProviderTopic, event.StudentTopic(req.UserID))
}
