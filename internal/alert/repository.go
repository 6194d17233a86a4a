package alert

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, a *HealthAlert) error
	// ListActive returns ACTIVE alerts whose end time is after now.
	ListActive(ctx context.Context, now time.Time) ([]HealthAlert, error)
	// ExpireDue moves every ACTIVE or DRAFT alert with end time <= now to
	// EXPIRED and returns only the rows this call moved. Rows another caller
	// is already expiring are skipped.
	ExpireDue(ctx context.Context, now time.Time) ([]Expired, error)
}
