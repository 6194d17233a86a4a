package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

// The functions in this file are the state machine. Each one validates the
// actor and the current state, mutates a in place and reports whether
// anything changed. Only status changes append history.

func newPending(student uuid.UUID, svc Offering, minutes int, start time.Time, notes string, now time.Time) *Appointment {
	a := &Appointment{
		ID:        uuid.New(),
		StudentID: student,
		Service:   svc,
		StartTime: start.UTC(),
		Duration:  minutes,
		Notes:     notes,
		CreatedAt: now,
	}
	a.transition(StatusPending, ActionCreate, student, now)
	return a
}

func (a *Appointment) transition(to Status, action Action, actor uuid.UUID, at time.Time) {
	a.History = append(a.History, HistoryEntry{
		Status:      to,
		PriorStatus: a.Status,
		Action:      action,
		ActorID:     actor,
		Timestamp:   at,
	})
	a.Status = to
	a.UpdatedAt = at
}

func (a *Appointment) ownedBy(actor identity.Identity) bool {
	return actor.IsStudent() && actor.UserID == a.StudentID
}

func (a *Appointment) requireOpen(op string) error {
	if a.Status.Terminal() {
		return apperr.InvalidTransition(string(a.Status), "cannot %s a %s appointment", op, a.Status)
	}
	return nil
}

func (a *Appointment) decide(actor identity.Identity, d Decision, now time.Time) error {
	if !actor.IsProvider() {
		return apperr.Unauthorized("only providers can confirm or deny appointments")
	}
	if a.Status != StatusPending && a.Status != StatusRescheduled {
		return apperr.InvalidTransition(string(a.Status), "appointment is not awaiting a decision")
	}

	provider := actor.UserID
	a.ProviderID = &provider

	switch d {
	case DecisionConfirm:
		a.transition(StatusConfirmed, ActionConfirm, actor.UserID, now)
	case DecisionDeny:
		a.transition(StatusDenied, ActionDeny, actor.UserID, now)
	}
	return nil
}

func (a *Appointment) assignSupport(actor identity.Identity, supportID uuid.UUID, now time.Time) (bool, error) {
	if !actor.IsProvider() {
		return false, apperr.Unauthorized("only providers can assign support staff")
	}
	if err := a.requireOpen("assign support to"); err != nil {
		return false, err
	}
	if a.SupportID != nil && *a.SupportID == supportID {
		return false, nil
	}

	a.SupportID = &supportID
	a.UpdatedAt = now
	return true, nil
}

func (a *Appointment) setLocation(actor identity.Identity, loc Location, now time.Time) (bool, error) {
	if !actor.IsProvider() {
		return false, apperr.Unauthorized("only providers can set the location")
	}
	if err := a.requireOpen("relocate"); err != nil {
		return false, err
	}
	if a.Location != nil && *a.Location == loc {
		return false, nil
	}

	a.Location = &loc
	a.UpdatedAt = now
	return true, nil
}

func (a *Appointment) reschedule(actor identity.Identity, start time.Time, svc Offering, minutes int, now time.Time) error {
	if !a.ownedBy(actor) {
		return apperr.Unauthorized("only the booking student can reschedule")
	}
	if err := a.requireOpen("reschedule"); err != nil {
		return err
	}

	a.StartTime = start.UTC()
	a.Service = svc
	a.Duration = minutes
	a.CheckedIn = false
	a.CheckedInAt = nil
	a.transition(StatusPending, ActionReschedule, actor.UserID, now)
	return nil
}

func (a *Appointment) cancel(actor identity.Identity, now time.Time) error {
	if !a.ownedBy(actor) {
		return apperr.Unauthorized("only the booking student can cancel")
	}
	if err := a.requireOpen("cancel"); err != nil {
		return err
	}

	a.transition(StatusCancelled, ActionCancel, actor.UserID, now)
	return nil
}

func (a *Appointment) checkIn(actor identity.Identity, window time.Duration, now time.Time) (bool, error) {
	if !a.ownedBy(actor) && !actor.IsProvider() {
		return false, apperr.Unauthorized("only the booking student or a provider can check in")
	}
	if a.Status != StatusConfirmed {
		return false, apperr.InvalidTransition(string(a.Status), "only confirmed appointments can be checked in")
	}
	if a.CheckedIn {
		return false, nil
	}

	delta := now.Sub(a.StartTime)
	if delta < -window || delta > window {
		return false, apperr.InvalidTransition(string(a.Status),
			"check-in opens %s before and closes %s after the start time", window, window)
	}

	at := now
	a.CheckedIn = true
	a.CheckedInAt = &at
	a.UpdatedAt = now
	return true, nil
}

func (a *Appointment) complete(actor identity.Identity, now time.Time) error {
	if !actor.IsProvider() {
		return apperr.Unauthorized("only providers can complete appointments")
	}
	if a.Status != StatusConfirmed {
		return apperr.InvalidTransition(string(a.Status), "only confirmed appointments can be completed")
	}

	a.transition(StatusCompleted, ActionComplete, actor.UserID, now)
	return nil
}
