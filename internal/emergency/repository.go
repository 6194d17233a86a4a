package emergency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRequestNotFound = errors.New("ambulance request not found")

// GateFunc decides whether a submission may proceed given the user's last
// successful submission time, nil when there is none.
type GateFunc func(lastSubmittedAt *time.Time) error

// MutateFunc applies one transition to a locked request and reports whether
// anything changed.
type MutateFunc func(r *AmbulanceRequest) (changed bool, err error)

type Repository interface {
	// CreateGated serializes submissions per user, runs gate against the
	// stored cooldown and, if it passes, inserts req and records req.CreatedAt
	// as the user's last submission, all in one transaction.
	CreateGated(ctx context.Context, req *AmbulanceRequest, gate GateFunc) error
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*AmbulanceRequest, bool, error)

	ListPending(ctx context.Context, limit int) ([]AmbulanceRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]AmbulanceRequest, error)
}
