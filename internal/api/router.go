package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/alert"
	"github.com/hackgods/campus-care-coordination/internal/appointment"
	"github.com/hackgods/campus-care-coordination/internal/emergency"
	"github.com/hackgods/campus-care-coordination/internal/hub"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

type AppointmentService interface {
	Create(ctx context.Context, actor identity.Identity, in appointment.CreateInput) (*appointment.Appointment, error)
	ConfirmOrDeny(ctx context.Context, id uuid.UUID, actor identity.Identity, d appointment.Decision) (*appointment.Appointment, error)
	AssignSupport(ctx context.Context, id uuid.UUID, actor identity.Identity, supportID uuid.UUID) (*appointment.Appointment, error)
	SetLocation(ctx context.Context, id uuid.UUID, actor identity.Identity, loc appointment.Location) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, actor identity.Identity, in appointment.RescheduleInput) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, actor identity.Identity) (*appointment.Appointment, error)
	CheckIn(ctx context.Context, id uuid.UUID, actor identity.Identity) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, actor identity.Identity) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID, actor identity.Identity) (*appointment.Appointment, error)
	List(ctx context.Context, actor identity.Identity, limit, offset int) ([]appointment.Appointment, error)
}

type EmergencyService interface {
	Submit(ctx context.Context, actor identity.Identity, in emergency.SubmitInput) (*emergency.AmbulanceRequest, error)
	Resolve(ctx context.Context, id uuid.UUID, actor identity.Identity) (*emergency.AmbulanceRequest, error)
	Cancel(ctx context.Context, id uuid.UUID, actor identity.Identity) (*emergency.AmbulanceRequest, error)
	List(ctx context.Context, actor identity.Identity) ([]emergency.AmbulanceRequest, error)
}

type AlertService interface {
	Create(ctx context.Context, actor identity.Identity, in alert.CreateInput) (*alert.HealthAlert, error)
	Active(ctx context.Context) ([]alert.HealthAlert, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Emergencies  EmergencyService
	Alerts       AlertService
	Hub          *hub.Hub
	Verifier     *identity.Verifier
	Health       *HealthHandler
	Logger       zerolog.Logger
	PingInterval time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	auth := IdentityMiddleware(cfg.Verifier)

	r.With(auth).Get("/ws", NewWSHandler(cfg.Hub, cfg.PingInterval, cfg.Logger).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)

		appts := cfg.Appointments
		r.Post("/appointments", createAppointmentHandler(appts))
		r.Get("/appointments", listAppointmentsHandler(appts))
		r.Get("/appointments/{id}", idCommandHandler(appts.Get))
		r.Post("/appointments/{id}/decision", decideAppointmentHandler(appts))
		r.Post("/appointments/{id}/support", assignSupportHandler(appts))
		r.Post("/appointments/{id}/location", setLocationHandler(appts))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(appts))
		r.Post("/appointments/{id}/cancel", idCommandHandler(appts.Cancel))
		r.Post("/appointments/{id}/check-in", idCommandHandler(appts.CheckIn))
		r.Post("/appointments/{id}/complete", idCommandHandler(appts.Complete))

		emergencies := cfg.Emergencies
		r.Post("/ambulance-requests", submitAmbulanceHandler(emergencies))
		r.Get("/ambulance-requests", listAmbulanceHandler(emergencies))
		r.Post("/ambulance-requests/{id}/resolve", idCommandHandler(emergencies.Resolve))
		r.Post("/ambulance-requests/{id}/cancel", idCommandHandler(emergencies.Cancel))

		r.Post("/alerts", createAlertHandler(cfg.Alerts))
		r.Get("/alerts", listAlertsHandler(cfg.Alerts))
	})

	return r
}
