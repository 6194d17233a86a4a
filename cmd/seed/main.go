package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/alert"
	"github.com/hackgods/campus-care-coordination/internal/appointment"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/db"
	"github.com/hackgods/campus-care-coordination/internal/emergency"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
	"github.com/hackgods/campus-care-coordination/internal/logging"
)

// discard drops events; nobody is connected while seeding.
type discard struct{}

func (discard) Publish(context.Context, event.DomainEvent, ...string) {}

type seeder struct {
	appointments *appointment.Service
	emergencies  *emergency.Service
	alerts       *alert.Service
	log          zerolog.Logger
}

func main() {
	students := flag.Int("students", 200, "number of demo students")
	providers := flag.Int("providers", 10, "number of demo providers")
	alerts := flag.Int("alerts", 8, "number of demo alerts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "seed")
	logger.Info().Msg("seed starting")

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	s := &seeder{
		appointments: appointment.NewService(appointment.NewPgRepository(pool), discard{}, cfg, logger),
		emergencies:  emergency.NewService(emergency.NewPgRepository(pool), discard{}, cfg, logger),
		alerts:       alert.NewService(alert.NewPgRepository(pool), discard{}, cfg, logger),
		log:          logger,
	}

	staff := make([]identity.Identity, *providers)
	for i := range staff {
		staff[i] = identity.Identity{UserID: uuid.New(), Role: identity.RoleProvider}
	}

	bg := context.Background()
	if err := s.seedAlerts(bg, staff, *alerts); err != nil {
		logger.Fatal().Err(err).Msg("seed alerts")
	}

	var sample identity.Identity
	for i := 0; i < *students; i++ {
		student := identity.Identity{UserID: uuid.New(), Role: identity.RoleStudent}
		if i == 0 {
			sample = student
		}
		if err := s.seedStudent(bg, student, staff); err != nil {
			logger.Fatal().Err(err).Str("student_id", student.UserID.String()).Msg("seed student")
		}
		if (i+1)%50 == 0 {
			logger.Info().Int("done", i+1).Int("total", *students).Msg("students seeded")
		}
	}

	printTokens(cfg, logger, sample, staff[0])
	logger.Info().Msg("seed complete")
}

func (s *seeder) seedStudent(ctx context.Context, student identity.Identity, staff []identity.Identity) error {
	services := appointment.Offerings()
	now := time.Now().UTC()

	for n := gofakeit.Number(1, 3); n > 0; n-- {
		start := now.Truncate(15*time.Minute).Add(time.Duration(gofakeit.Number(4, 14*24*4)) * 15 * time.Minute)
		appt, err := s.appointments.Create(ctx, student, appointment.CreateInput{
			Service:   string(services[gofakeit.Number(0, len(services)-1)]),
			StartTime: start,
			Notes:     appointmentNote(),
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		provider := staff[gofakeit.Number(0, len(staff)-1)]
		switch gofakeit.Number(0, 9) {
		case 0, 1, 2, 3:
			// left pending
		case 4:
			if _, err := s.appointments.ConfirmOrDeny(ctx, appt.ID, provider, appointment.DecisionDeny); err != nil {
				return fmt.Errorf("deny: %w", err)
			}
		default:
			if _, err := s.appointments.ConfirmOrDeny(ctx, appt.ID, provider, appointment.DecisionConfirm); err != nil {
				return fmt.Errorf("confirm: %w", err)
			}
			loc := appointment.LocationMainClinic
			if gofakeit.Bool() {
				loc = appointment.LocationTelehealth
			}
			if _, err := s.appointments.SetLocation(ctx, appt.ID, provider, loc); err != nil {
				return fmt.Errorf("set location: %w", err)
			}
		}
	}

	if gofakeit.Number(0, 19) == 0 {
		in := emergency.SubmitInput{Details: gofakeit.Adjective() + " " + gofakeit.Noun()}
		if gofakeit.Bool() {
			in.Address = gofakeit.Street() + ", " + gofakeit.City()
		} else {
			lat, lon := 40.0+gofakeit.Float64Range(0, 0.05), -74.0+gofakeit.Float64Range(0, 0.05)
			in.Latitude, in.Longitude = &lat, &lon
		}
		if _, err := s.emergencies.Submit(ctx, student, in); err != nil {
			return fmt.Errorf("submit ambulance request: %w", err)
		}
	}
	return nil
}

func appointmentNote() string {
	return fmt.Sprintf("%s %s since %s", gofakeit.Adjective(), gofakeit.Noun(), gofakeit.WeekDay())
}

func alertContent() string {
	return fmt.Sprintf("The %s at %s is %s until %s.",
		gofakeit.Noun(), gofakeit.Street(), gofakeit.Adjective(), gofakeit.WeekDay())
}

func (s *seeder) seedAlerts(ctx context.Context, staff []identity.Identity, count int) error {
	priorities := []alert.Priority{alert.PriorityLow, alert.PriorityMedium, alert.PriorityHigh}

	for i := 0; i < count; i++ {
		_, err := s.alerts.Create(ctx, staff[i%len(staff)], alert.CreateInput{
			Title:           fmt.Sprintf("%s %s notice", gofakeit.Adjective(), gofakeit.Noun()),
			Content:         alertContent(),
			Priority:        priorities[gofakeit.Number(0, len(priorities)-1)],
			DurationSeconds: gofakeit.Number(1, 72) * 3600,
			Draft:           i == count-1,
		})
		if err != nil {
			return fmt.Errorf("create alert: %w", err)
		}
	}
	s.log.Info().Int("count", count).Msg("alerts seeded")
	return nil
}

// printTokens mints short-lived demo tokens so the API can be tried by hand.
func printTokens(cfg config.Config, logger zerolog.Logger, student, provider identity.Identity) {
	v := identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	for _, id := range []identity.Identity{student, provider} {
		tok, err := v.Sign(id, 24*time.Hour)
		if err != nil {
			logger.Error().Err(err).Msg("sign demo token")
			continue
		}
		logger.Info().Str("role", string(id.Role)).Str("user_id", id.UserID.String()).Str("token", tok).Msg("demo token")
	}
}
