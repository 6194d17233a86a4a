package emergency

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusResolved  Status = "RESOLVED"
	StatusCancelled Status = "CANCELLED"
)

// AmbulanceRequest carries exactly one location form: a coordinate pair or
// a street address.
type AmbulanceRequest struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"userId"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Address    *string    `json:"address,omitempty"`
	Details    string     `json:"details,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolvedBy,omitempty"`
}

type SubmitInput struct {
	Latitude  *float64
	Longitude *float64
	Address   string
	Details   string
}
