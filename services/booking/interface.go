package booking

import (
	"context"
	"time"

	"psychology/database"
	"psychology/models"
	"psychology/utils"

	"go.uber.org/zap"
)

// ReservationService books a single slot for an appointment.
type ReservationService interface {
	Reserve(ctx context.Context, draft models.AppointmentDraft) (*models.Appointment, error)
	FindByClientRequestID(ctx context.Context, clientRequestID string) (*models.Appointment, error)
}

// SlotStore is the slot side of a reservation.
type SlotStore interface {
	GetByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	ReserveSlotIfAvailable(ctx context.Context, slotID string, now time.Time) (bool, error)
}

// AppointmentStore is the appointment side of a reservation.
type AppointmentStore interface {
	Create(ctx context.Context, appt *models.Appointment) error
	GetByClientRequestID(ctx context.Context, clientRequestID string) (*models.Appointment, error)
	FindOverlapping(ctx context.Context, start, end time.Time) (*models.Appointment, error)
	TouchLedger(ctx context.Context, day string, now time.Time) error
}

// DefaultReservationService implements ReservationService on top of a
// transaction runner; the stores must join the transaction through the
// context they are handed.
type DefaultReservationService struct {
	Tx           database.TxRunner
	Slots        SlotStore
	Appointments AppointmentStore
	Clock        utils.Clock
	// MaxRetries is how many extra attempts a write conflict may trigger.
	MaxRetries int
	Logger     *zap.Logger
}

func NewReservationService(tx database.TxRunner, slots SlotStore, appts AppointmentStore, clock utils.Clock, maxRetries int, logger *zap.Logger) *DefaultReservationService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultReservationService{
		Tx:           tx,
		Slots:        slots,
		Appointments: appts,
		Clock:        clock,
		MaxRetries:   maxRetries,
		Logger:       logger,
	}
}
