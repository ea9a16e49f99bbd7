// File: database/repository/appointment/interface.go
package appointmentRepo

import (
	"context"
	"time"

	"psychology/models"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	collectionName       = "appointments"
	ledgerCollectionName = "booking_ledger"
)

type AppointmentRepository interface {
	// Create inserts a new appointment. A reused clientRequestId yields database.ErrDuplicateClientRequest.
	Create(ctx context.Context, appt *models.Appointment) error
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	GetByClientRequestID(ctx context.Context, clientRequestID string) (*models.Appointment, error)
	// FindOverlapping returns a non-terminal appointment intersecting [start, end), or nil.
	FindOverlapping(ctx context.Context, start, end time.Time) (*models.Appointment, error)
	TransitionStatusIf(ctx context.Context, id string, from, to models.AppointmentStatus, now time.Time) (bool, error)
	// SetCalendarEventIDIfAbsent writes eventID only while no event id is stored.
	SetCalendarEventIDIfAbsent(ctx context.Context, id, eventID string, now time.Time) (bool, error)
	// ReplaceCalendarEventID swaps a known stale event id for eventID.
	ReplaceCalendarEventID(ctx context.Context, id, staleEventID, eventID string, now time.Time) (bool, error)
	ListConfirmedMissingEvent(ctx context.Context, from, to time.Time, limit int) ([]models.Appointment, error)
	ListConfirmedInWindow(ctx context.Context, from, to time.Time) ([]models.Appointment, error)
	// TouchLedger bumps the day's ledger document inside the caller's transaction.
	TouchLedger(ctx context.Context, day string, now time.Time) error
	EnsureIndexes(ctx context.Context) error
}

type mongoAppointmentRepo struct {
	coll   *mongo.Collection
	ledger *mongo.Collection
}

// NewMongoAppointmentRepo constructs a MongoDB AppointmentRepository.
func NewMongoAppointmentRepo(db *mongo.Database) AppointmentRepository {
	return &mongoAppointmentRepo{
		coll:   db.Collection(collectionName),
		ledger: db.Collection(ledgerCollectionName),
	}
}
