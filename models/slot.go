package models

import "time"

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotReserved  SlotStatus = "reserved"
	SlotBlocked   SlotStatus = "blocked"
)

type SlotSource string

const (
	SlotSourceProduct  SlotSource = "product"
	SlotSourceExternal SlotSource = "external_calendar"
)

// AvailabilitySlot is a bookable (or externally busy) interval.
type AvailabilitySlot struct {
	ID              string     `bson:"id" json:"id"`
	ServiceID       *string    `bson:"serviceId,omitempty" json:"serviceId,omitempty"`
	StartAtUTC      time.Time  `bson:"startAtUtc" json:"startAtUtc"`
	EndAtUTC        time.Time  `bson:"endAtUtc" json:"endAtUtc"`
	Status          SlotStatus `bson:"status" json:"status"`
	Source          SlotSource `bson:"source" json:"source"`
	ExternalEventID *string    `bson:"externalEventId,omitempty" json:"externalEventId,omitempty"` // set for busy blocks mirrored from the calendar
	CreatedAt       time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// BusyInterval is a half-open [Start, End) span reported busy by the external calendar.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BookingLedger is touched by every reservation on its UTC day so that
// concurrent reservations on the same day collide inside the transaction.
type BookingLedger struct {
	Day       string    `bson:"day" json:"day"` // YYYY-MM-DD
	Version   int64     `bson:"version" json:"version"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
