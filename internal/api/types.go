package api

import (
	"time"
)

type CreateAppointmentRequest struct {
	Service   string    `json:"service"`
	StartTime time.Time `json:"startTime"`
	Notes     string    `json:"notes,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision"`
}

type AssignSupportRequest struct {
	SupportID string `json:"supportId"`
}

type SetLocationRequest struct {
	Location string `json:"location"`
}

type RescheduleRequest struct {
	StartTime time.Time `json:"startTime"`
	Service   string    `json:"service,omitempty"`
}

type AmbulanceRequestBody struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
	Details   string   `json:"details,omitempty"`
}

type CreateAlertRequest struct {
	Title           string `json:"title,omitempty"`
	Content         string `json:"content"`
	Priority        string `json:"priority"`
	DurationSeconds int    `json:"durationSeconds"`
	Draft           bool   `json:"draft,omitempty"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type ErrorResponse struct {
	Error             string `json:"error"`
	Details           string `json:"details,omitempty"`
	CurrentState      string `json:"current_state,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}
