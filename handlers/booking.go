package handlers

import (
	"errors"
	"net/http"

	"psychology/database"
	"psychology/models"
	"psychology/services/booking"
	"psychology/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReserveHandler books a slot. Conflicts answer 409, an exhausted retry
// budget answers 503 so the client may retry the whole request.
func ReserveHandler(svc booking.ReservationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := getLogger(c)

		var draft models.AppointmentDraft
		if err := c.ShouldBindJSON(&draft); err != nil {
			utils.JSONError(c, http.StatusBadRequest, "invalid_input", "Invalid booking request", err.Error())
			return
		}

		appt, err := svc.Reserve(c.Request.Context(), draft)
		if err != nil {
			writeBookingError(c, svc, err)
			return
		}

		logger.Info("Appointment reserved",
			zap.String("appointmentId", appt.ID),
			zap.Time("startAtUtc", appt.StartAtUTC),
		)
		c.JSON(http.StatusCreated, appt)
	}
}

func writeBookingError(c *gin.Context, svc booking.ReservationService, err error) {
	var conflict *booking.BookingConflictError
	var idem *booking.IdempotencyKeyConflictError
	var timeout *booking.BookingTimeoutError
	var invalid *booking.ValidationError

	switch {
	case errors.As(err, &conflict):
		utils.JSONError(c, http.StatusConflict, "slot_unavailable", "Slot unavailable", conflict.Reason)
	case errors.As(err, &idem):
		body := gin.H{"message": "Appointment already exists for this request", "code": "duplicate_request"}
		if existing, lookupErr := svc.FindByClientRequestID(c.Request.Context(), idem.ClientRequestID); lookupErr == nil {
			body["appointmentId"] = existing.ID
		}
		c.AbortWithStatusJSON(http.StatusConflict, body)
	case errors.As(err, &timeout):
		c.Header("Retry-After", "1")
		utils.JSONError(c, http.StatusServiceUnavailable, "booking_busy", "Booking is busy, retry shortly", err.Error())
	case errors.As(err, &invalid):
		utils.JSONError(c, http.StatusBadRequest, "invalid_input", "Invalid booking request", invalid.Error())
	default:
		utils.JSONError(c, http.StatusInternalServerError, "internal", "Failed to reserve appointment", err.Error())
	}
}

// GetByClientRequestHandler resolves an idempotency key to its appointment.
func GetByClientRequestHandler(svc booking.ReservationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		appt, err := svc.FindByClientRequestID(c.Request.Context(), c.Param("clientRequestId"))
		if errors.Is(err, database.ErrNotFound) {
			utils.JSONError(c, http.StatusNotFound, "not_found", "Appointment not found", "")
			return
		}
		if err != nil {
			utils.JSONError(c, http.StatusInternalServerError, "internal", "Failed to load appointment", err.Error())
			return
		}
		c.JSON(http.StatusOK, appt)
	}
}
