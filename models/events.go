package models

import "time"

const (
	DomainEventAppointmentConfirmed = "appointment.confirmed"
	DomainEventPaymentCanceled      = "payment.canceled"
)

// DomainEvent is published to the broker after a state change for downstream notifiers.
type DomainEvent struct {
	Type          string    `json:"type"`
	AppointmentID string    `json:"appointmentId"`
	PaymentID     string    `json:"paymentId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// CalendarFollowUpPayload is the queued request to create a calendar event.
type CalendarFollowUpPayload struct {
	AppointmentID string `json:"appointmentId"`
}
