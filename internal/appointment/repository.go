package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAppointmentNotFound = errors.New("appointment not found")

// MutateFunc applies one state machine step to a locked appointment. It
// reports whether anything changed; unchanged results are not written.
type MutateFunc func(a *Appointment) (changed bool, err error)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Create inserts a new appointment with its initial history.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Mutate loads the appointment under a row lock, runs fn and persists the
	// result together with any history entries fn appended, in one transaction.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, bool, error)

	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Appointment, error)
	// ListUpcoming returns the student's non-terminal appointments starting at or after from.
	ListUpcoming(ctx context.Context, studentID uuid.UUID, from time.Time) ([]Appointment, error)
	// ListAwaitingDecision returns PENDING and RESCHEDULED appointments, oldest first.
	ListAwaitingDecision(ctx context.Context, limit int) ([]Appointment, error)
}
