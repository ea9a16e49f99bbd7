package models

import "time"

type AppointmentStatus string

const (
	AppointmentPendingPayment AppointmentStatus = "pending_payment"
	AppointmentPaid           AppointmentStatus = "paid"
	AppointmentConfirmed      AppointmentStatus = "confirmed"
	AppointmentCanceled       AppointmentStatus = "canceled"
	AppointmentRescheduled    AppointmentStatus = "rescheduled"
	AppointmentCompleted      AppointmentStatus = "completed"
)

// NonTerminalAppointmentStatuses hold their time interval; two of them may never overlap.
var NonTerminalAppointmentStatuses = []AppointmentStatus{
	AppointmentPendingPayment,
	AppointmentPaid,
	AppointmentConfirmed,
}

func (s AppointmentStatus) IsNonTerminal() bool {
	for _, st := range NonTerminalAppointmentStatuses {
		if s == st {
			return true
		}
	}
	return false
}

type AppointmentFormat string

const (
	FormatOnline  AppointmentFormat = "online"
	FormatOffline AppointmentFormat = "offline"
)

// Appointment is a client's booking of a service interval.
type Appointment struct {
	ID                      string            `bson:"id" json:"id"`
	ServiceID               string            `bson:"serviceId" json:"serviceId"`
	ClientUserID            *string           `bson:"clientUserId,omitempty" json:"clientUserId,omitempty"`
	LeadID                  *string           `bson:"leadId,omitempty" json:"leadId,omitempty"`
	ClientRequestID         *string           `bson:"clientRequestId,omitempty" json:"clientRequestId,omitempty"` // idempotency key of the booking request
	StartAtUTC              time.Time         `bson:"startAtUtc" json:"startAtUtc"`
	EndAtUTC                time.Time         `bson:"endAtUtc" json:"endAtUtc"`
	Timezone                string            `bson:"timezone" json:"timezone"`
	Format                  AppointmentFormat `bson:"format" json:"format"`
	Status                  AppointmentStatus `bson:"status" json:"status"`
	SlotID                  *string           `bson:"slotId,omitempty" json:"slotId,omitempty"`
	ExternalCalendarEventID *string           `bson:"externalCalendarEventId,omitempty" json:"externalCalendarEventId,omitempty"`
	CreatedAt               time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt               time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// AppointmentDraft is the input of a reservation.
type AppointmentDraft struct {
	ServiceID       string            `json:"serviceId" binding:"required"`
	SlotID          string            `json:"slotId"`
	StartAtUTC      time.Time         `json:"startAtUtc" binding:"required"`
	EndAtUTC        time.Time         `json:"endAtUtc" binding:"required"`
	Timezone        string            `json:"timezone" binding:"required"`
	Format          AppointmentFormat `json:"format" binding:"required"`
	ClientUserID    *string           `json:"clientUserId,omitempty"`
	LeadID          *string           `json:"leadId,omitempty"`
	ClientRequestID *string           `json:"clientRequestId,omitempty"`
}
