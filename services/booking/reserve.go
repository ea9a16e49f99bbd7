package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"psychology/database"
	"psychology/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reserve atomically moves the draft's slot to reserved, rejects any overlap
// with a live appointment and inserts the appointment as pending_payment.
// Write conflicts are retried up to MaxRetries times; nothing persists on failure.
func (s *DefaultReservationService) Reserve(ctx context.Context, draft models.AppointmentDraft) (*models.Appointment, error) {
	if strings.TrimSpace(draft.SlotID) == "" {
		return nil, &BookingConflictError{Reason: ReasonSlotRequired}
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	attempts := s.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		appt, err := s.reserveOnce(ctx, draft)
		if err == nil {
			s.Logger.Info("Appointment reserved",
				zap.String("appointmentId", appt.ID),
				zap.String("slotId", draft.SlotID),
				zap.Int("attempt", attempt),
			)
			return appt, nil
		}

		switch {
		case errors.Is(err, database.ErrTxConflict):
			lastErr = err
			s.Logger.Warn("Reservation hit a write conflict, retrying",
				zap.String("slotId", draft.SlotID),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", attempts),
			)
			continue
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &BookingTimeoutError{Attempts: attempt, Cause: err}
		default:
			return nil, err
		}
	}

	s.Logger.Warn("Reservation retry budget exhausted", zap.String("slotId", draft.SlotID), zap.Int("attempts", attempts))
	return nil, &BookingTimeoutError{Attempts: attempts, Cause: lastErr}
}

func (s *DefaultReservationService) reserveOnce(ctx context.Context, draft models.AppointmentDraft) (*models.Appointment, error) {
	now := s.Clock.Now()
	start, end := draft.StartAtUTC.UTC(), draft.EndAtUTC.UTC()
	slotID := draft.SlotID

	appt := &models.Appointment{
		ID:              uuid.New().String(),
		ServiceID:       draft.ServiceID,
		ClientUserID:    draft.ClientUserID,
		LeadID:          draft.LeadID,
		ClientRequestID: draft.ClientRequestID,
		StartAtUTC:      start,
		EndAtUTC:        end,
		Timezone:        draft.Timezone,
		Format:          draft.Format,
		Status:          models.AppointmentPendingPayment,
		SlotID:          &slotID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		// A resubmitted request must be reported as such even though its slot is now taken.
		if draft.ClientRequestID != nil {
			_, err := s.Appointments.GetByClientRequestID(txCtx, *draft.ClientRequestID)
			if err == nil {
				return &IdempotencyKeyConflictError{ClientRequestID: *draft.ClientRequestID}
			}
			if !errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("lookup client request: %w", err)
			}
		}

		slot, err := s.Slots.GetByID(txCtx, slotID)
		if errors.Is(err, database.ErrNotFound) {
			return &BookingConflictError{Reason: ReasonSlotNotFound}
		}
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if err := matchSlot(slot, draft.ServiceID, start, end); err != nil {
			return err
		}

		reserved, err := s.Slots.ReserveSlotIfAvailable(txCtx, slotID, now)
		if err != nil {
			return fmt.Errorf("reserve slot: %w", err)
		}
		if !reserved {
			return &BookingConflictError{Reason: ReasonSlotReserved}
		}

		for _, day := range ledgerDays(start, end) {
			if err := s.Appointments.TouchLedger(txCtx, day, now); err != nil {
				return err
			}
		}

		existing, err := s.Appointments.FindOverlapping(txCtx, start, end)
		if err != nil {
			return fmt.Errorf("overlap check: %w", err)
		}
		if existing != nil {
			s.Logger.Warn("Slot reserved but interval overlaps a live appointment",
				zap.String("slotId", slotID),
				zap.String("existingAppointmentId", existing.ID),
			)
			return &BookingConflictError{Reason: ReasonTimeOverlap}
		}

		if err := s.Appointments.Create(txCtx, appt); err != nil {
			if errors.Is(err, database.ErrDuplicateClientRequest) && draft.ClientRequestID != nil {
				return &IdempotencyKeyConflictError{ClientRequestID: *draft.ClientRequestID}
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// FindByClientRequestID resolves an IdempotencyKeyConflictError to the stored appointment.
func (s *DefaultReservationService) FindByClientRequestID(ctx context.Context, clientRequestID string) (*models.Appointment, error) {
	appt, err := s.Appointments.GetByClientRequestID(ctx, clientRequestID)
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func validateDraft(draft models.AppointmentDraft) error {
	if strings.TrimSpace(draft.ServiceID) == "" {
		return &ValidationError{Field: "serviceId", Message: "is required"}
	}
	if draft.StartAtUTC.IsZero() || draft.EndAtUTC.IsZero() {
		return &ValidationError{Field: "startAtUtc", Message: "start and end are required"}
	}
	if !draft.StartAtUTC.Before(draft.EndAtUTC) {
		return &ValidationError{Field: "endAtUtc", Message: "must be after startAtUtc"}
	}
	if draft.Timezone == "" {
		return &ValidationError{Field: "timezone", Message: "is required"}
	}
	if _, err := time.LoadLocation(draft.Timezone); err != nil {
		return &ValidationError{Field: "timezone", Message: err.Error()}
	}
	switch draft.Format {
	case models.FormatOnline, models.FormatOffline:
	default:
		return &ValidationError{Field: "format", Message: fmt.Sprintf("unknown format %q", draft.Format)}
	}
	if draft.ClientRequestID != nil && strings.TrimSpace(*draft.ClientRequestID) == "" {
		return &ValidationError{Field: "clientRequestId", Message: "must not be blank"}
	}
	return nil
}

// matchSlot rejects a draft that names a slot for a different interval or
// service; the appointment must cover exactly the slot it reserves.
func matchSlot(slot *models.AvailabilitySlot, serviceID string, start, end time.Time) error {
	if slot.Source == models.SlotSourceExternal {
		return &BookingConflictError{Reason: ReasonSlotReserved}
	}
	if !slot.StartAtUTC.Equal(start) || !slot.EndAtUTC.Equal(end) {
		return &ValidationError{
			Field:   "slotId",
			Message: fmt.Sprintf("slot covers %s-%s, not the requested interval", slot.StartAtUTC.Format(time.RFC3339), slot.EndAtUTC.Format(time.RFC3339)),
		}
	}
	if slot.ServiceID != nil && *slot.ServiceID != serviceID {
		return &ValidationError{Field: "serviceId", Message: "does not match the slot's service"}
	}
	return nil
}

// ledgerDays lists the UTC days [start, end) touches, as YYYY-MM-DD.
func ledgerDays(start, end time.Time) []string {
	var days []string
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(end) {
		days = append(days, day.Format("2006-01-02"))
		day = day.AddDate(0, 0, 1)
	}
	return days
}
