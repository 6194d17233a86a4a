package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusDenied      Status = "DENIED"
	StatusCompleted   Status = "COMPLETED"
	StatusRescheduled Status = "RESCHEDULED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusCancelled || s == StatusCompleted
}

type Decision string

const (
	DecisionConfirm Decision = "CONFIRMED"
	DecisionDeny    Decision = "DENIED"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionConfirm    Action = "confirm"
	ActionDeny       Action = "deny"
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
	ActionComplete   Action = "complete"
)

// Offering is an entry in the service catalog.
type Offering string

const (
	OfferingGeneralCheckup Offering = "General Checkup"
	OfferingDental         Offering = "Dental"
	OfferingCounseling     Offering = "Counseling"
	OfferingVaccination    Offering = "Vaccination"
	OfferingPhysiotherapy  Offering = "Physiotherapy"
	OfferingEyeExam        Offering = "Eye Exam"
	OfferingLabTest        Offering = "Lab Test"
	OfferingNutrition      Offering = "Nutrition"
)

// offeringMinutes is the catalog; each offering has a fixed length.
var offeringMinutes = map[Offering]int{
	OfferingGeneralCheckup: 30,
	OfferingDental:         45,
	OfferingCounseling:     60,
	OfferingVaccination:    15,
	OfferingPhysiotherapy:  45,
	OfferingEyeExam:        30,
	OfferingLabTest:        20,
	OfferingNutrition:      30,
}

// LookupOffering resolves a catalog entry by name, ignoring case.
func LookupOffering(name string) (Offering, int, bool) {
	for svc, minutes := range offeringMinutes {
		if strings.EqualFold(string(svc), strings.TrimSpace(name)) {
			return svc, minutes, true
		}
	}
	return "", 0, false
}

// Offerings lists the catalog, used by the seeder and simulator.
func Offerings() []Offering {
	out := make([]Offering, 0, len(offeringMinutes))
	for svc := range offeringMinutes {
		out = append(out, svc)
	}
	return out
}

type Location string

const (
	LocationMainClinic   Location = "MAIN_CLINIC"
	LocationNorthCampus  Location = "NORTH_CAMPUS"
	LocationSportsCenter Location = "SPORTS_CENTER"
	LocationTelehealth   Location = "TELEHEALTH"
)

func (l Location) Valid() bool {
	switch l {
	case LocationMainClinic, LocationNorthCampus, LocationSportsCenter, LocationTelehealth:
		return true
	}
	return false
}

type HistoryEntry struct {
	Status      Status    `json:"status"`
	PriorStatus Status    `json:"priorStatus,omitempty"`
	Action      Action    `json:"action"`
	ActorID     uuid.UUID `json:"actorId"`
	Timestamp   time.Time `json:"timestamp"`
}

type Appointment struct {
	ID          uuid.UUID      `json:"id"`
	StudentID   uuid.UUID      `json:"studentId"`
	ProviderID  *uuid.UUID     `json:"providerId"`
	SupportID   *uuid.UUID     `json:"supportId"`
	Service     Offering       `json:"service"`
	StartTime   time.Time      `json:"startTime"`
	Duration    int            `json:"duration"`
	Status      Status         `json:"status"`
	Location    *Location      `json:"location"`
	Notes       string         `json:"notes,omitempty"`
	CheckedIn   bool           `json:"checkedIn"`
	CheckedInAt *time.Time     `json:"checkedInAt"`
	History     []HistoryEntry `json:"history"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.Duration) * time.Minute)
}
