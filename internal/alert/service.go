package alert

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

const (
	maxDuration = 30 * 24 * time.Hour
	titleLength = 80
)

type CreateInput struct {
	Title           string
	Content         string
	Priority        Priority
	DurationSeconds int
	// Draft stores the alert without broadcasting it.
	Draft bool
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
		log:       logger.With().Str("component", "alert").Logger(),
		now:       time.Now,
	}
}

// Create stores an alert that ends DurationSeconds from now. Active alerts
// are broadcast to every student immediately.
func (s *Service) Create(ctx context.Context, actor identity.Identity, in CreateInput) (*HealthAlert, error) {
	if !actor.IsProvider() {
		return nil, apperr.Unauthorized("only providers can create alerts")
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	if !in.Priority.Valid() {
		return nil, apperr.Validation("priority must be LOW, MEDIUM or HIGH")
	}
	// Range-check the seconds before converting; a huge value would wrap.
	if in.DurationSeconds <= 0 || int64(in.DurationSeconds) > int64(maxDuration/time.Second) {
		return nil, apperr.Validation("durationSeconds must be between 1 and %d", int64(maxDuration/time.Second))
	}
	duration := time.Duration(in.DurationSeconds) * time.Second

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = deriveTitle(content)
	}

	status := StatusActive
	if in.Draft {
		status = StatusDraft
	}

	now := s.now().UTC()
	a := &HealthAlert{
		ID:        uuid.New(),
		Title:     title,
		Content:   content,
		Priority:  in.Priority,
		StartTime: now,
		EndTime:   now.Add(duration),
		Status:    status,
		CreatedBy: actor.UserID,
		CreatedAt: now,
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, apperr.FromStore("create alert", err)
	}

	if a.Status == StatusActive {
		s.announce(ctx, event.AlertPublished, a)
	}
	return a, nil
}

// Sweep expires every alert past its end time. Only the rows this call moved
// are announced, so overlapping sweeps never double-notify. Drafts expire
// silently.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	expired, err := s.repo.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, apperr.FromStore("sweep alerts", err)
	}

	for i := range expired {
		if expired[i].Prior == StatusActive {
			s.announce(ctx, event.AlertExpired, &expired[i].Alert)
		}
	}
	return len(expired), nil
}

func (s *Service) Active(ctx context.Context) ([]HealthAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	list, err := s.repo.ListActive(ctx, s.now().UTC())
	if err != nil {
		return nil, apperr.FromStore("list active alerts", err)
	}
	return list, nil
}

func (s *Service) announce(ctx context.Context, kind event.Kind, a *HealthAlert) {
	ev, err := event.New(kind, a.ID, a, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", a.ID.String()).Msg("build alert event")
		return
	}
	s.publisher.Publish(ctx, ev, event.StudentAlertsTopic, event.ProviderTopic)
}

func deriveTitle(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	if utf8.RuneCountInString(line) <= titleLength {
		return line
	}
	return string([]rune(line)[:titleLength-1]) + "…"
}
