package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"psychology/models"
	"psychology/services/payment"
	"psychology/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody caps the webhook body read into memory.
const maxWebhookBody = 1 << 16

type PaymentInitiator interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*models.Payment, error)
}

type WebhookProcessor interface {
	Handle(ctx context.Context, provider, providerEventID string, payload []byte) error
}

// InitiatePaymentHandler opens a provider payment for a reserved appointment.
func InitiatePaymentHandler(initiator PaymentInitiator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.InitiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.JSONError(c, http.StatusBadRequest, "invalid_input", "Invalid payment request", err.Error())
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = c.GetHeader("Idempotency-Key")
		}

		p, err := initiator.Initiate(c.Request.Context(), req)
		var invalid *payment.ValidationError
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, p)
		case errors.As(err, &invalid):
			utils.JSONError(c, http.StatusBadRequest, "invalid_input", "Invalid payment request", invalid.Error())
		case errors.Is(err, payment.ErrAppointmentNotFound):
			utils.JSONError(c, http.StatusNotFound, "not_found", "Appointment not found", "")
		case errors.Is(err, payment.ErrNotPayable):
			utils.JSONError(c, http.StatusConflict, "not_payable", "Appointment is not awaiting payment", err.Error())
		default:
			utils.JSONError(c, http.StatusBadGateway, "provider_error", "Failed to create payment", err.Error())
		}
	}
}

// YooKassaWebhookHandler receives YooKassa notifications.
func YooKassaWebhookHandler(processor WebhookProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readWebhookBody(c)
		if !ok {
			return
		}
		eventID, err := payment.YooKassaEventID(payload)
		if err != nil {
			// Unkeyable payloads cannot be recorded; acknowledge so the provider stops.
			getLogger(c).Warn("Unkeyable YooKassa webhook acknowledged", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		respondWebhook(c, processor.Handle(c.Request.Context(), models.ProviderYooKassa, eventID, payload))
	}
}

// StripeWebhookHandler receives Stripe events after checking their signature.
func StripeWebhookHandler(processor WebhookProcessor, verifier payment.StripeVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readWebhookBody(c)
		if !ok {
			return
		}
		eventID, err := verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, "invalid_signature", "Invalid webhook signature", err.Error())
			return
		}
		respondWebhook(c, processor.Handle(c.Request.Context(), models.ProviderStripe, eventID, payload))
	}
}

func readWebhookBody(c *gin.Context) ([]byte, bool) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid_body", "Failed to read webhook body", err.Error())
		return nil, false
	}
	return payload, true
}

// respondWebhook acknowledges processed and malformed deliveries alike.
// Only transient failures answer 5xx, which makes the provider redeliver.
func respondWebhook(c *gin.Context, err error) {
	var malformed *payment.MalformedWebhookError
	if err == nil || errors.As(err, &malformed) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	utils.JSONError(c, http.StatusInternalServerError, "webhook_failed", "Webhook processing failed", err.Error())
}
