package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/alert"
	"github.com/hackgods/campus-care-coordination/internal/appointment"
	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/emergency"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Create(r.Context(), actorFrom(r), appointment.CreateInput{
			Service:   req.Service,
			StartTime: req.StartTime,
			Notes:     req.Notes,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func decideAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req DecisionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.ConfirmOrDeny(r.Context(), id, actorFrom(r), appointment.Decision(req.Decision))
		respond(w, r, appt, err)
	}
}

func assignSupportHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req AssignSupportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		supportID, err := uuid.Parse(req.SupportID)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "supportId must be a valid UUID")
			return
		}

		appt, err := svc.AssignSupport(r.Context(), id, actorFrom(r), supportID)
		respond(w, r, appt, err)
	}
}

func setLocationHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req SetLocationRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.SetLocation(r.Context(), id, actorFrom(r), appointment.Location(req.Location))
		respond(w, r, appt, err)
	}
}

func rescheduleAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, actorFrom(r), appointment.RescheduleInput{
			StartTime: req.StartTime,
			Service:   req.Service,
		})
		respond(w, r, appt, err)
	}
}

// idCommandHandler serves the routes that take only the path id: cancel,
// check-in, complete, get and resolve.
func idCommandHandler[T any](action func(context.Context, uuid.UUID, identity.Identity) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		v, err := action(r.Context(), id, actorFrom(r))
		respond(w, r, v, err)
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		list, err := svc.List(r.Context(), actorFrom(r), limit, offset)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse[appointment.Appointment]{Items: nonNil(list)})
	}
}

func submitAmbulanceHandler(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AmbulanceRequestBody
		if !decodeBody(w, r, &req) {
			return
		}

		created, err := svc.Submit(r.Context(), actorFrom(r), emergency.SubmitInput{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Address:   req.Address,
			Details:   req.Details,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func listAmbulanceHandler(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), actorFrom(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse[emergency.AmbulanceRequest]{Items: nonNil(list)})
	}
}

func createAlertHandler(svc AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAlertRequest
		if !decodeBody(w, r, &req) {
			return
		}

		a, err := svc.Create(r.Context(), actorFrom(r), alert.CreateInput{
			Title:           req.Title,
			Content:         req.Content,
			Priority:        alert.Priority(req.Priority),
			DurationSeconds: req.DurationSeconds,
			Draft:           req.Draft,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func listAlertsHandler(svc AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Active(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse[alert.HealthAlert]{Items: nonNil(list)})
	}
}

func actorFrom(r *http.Request) identity.Identity {
	id, _ := identity.FromContext(r.Context())
	return id
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func respond[T any](w http.ResponseWriter, r *http.Request, v *T, err error) {
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeAppError maps an error kind to its HTTP status. Unclassified errors
// are logged and reported as internal.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	resp := ErrorResponse{Error: string(appErr.Kind), Details: appErr.Message}
	status := http.StatusInternalServerError

	switch appErr.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalidTransition:
		status = http.StatusConflict
		resp.CurrentState = appErr.CurrentState
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
		secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
		resp.RetryAfterSeconds = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	case apperr.KindTimeout:
		status = http.StatusGatewayTimeout
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("store timeout")
	}

	writeJSON(w, status, resp)
}
