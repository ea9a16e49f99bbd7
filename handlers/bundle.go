// File: handlers/bundle.go
package handlers

import (
	"psychology/services/booking"
	"psychology/services/payment"

	"github.com/gin-gonic/gin"
)

// HandlerBundle groups the endpoint handlers the router mounts.
type HandlerBundle struct {
	// Booking endpoints
	ReserveHandler            gin.HandlerFunc
	GetByClientRequestHandler gin.HandlerFunc

	// Payment endpoints
	InitiatePaymentHandler gin.HandlerFunc
	YooKassaWebhookHandler gin.HandlerFunc
	StripeWebhookHandler   gin.HandlerFunc

	// Google Calendar integration; nil when OAuth is not configured
	GoogleAuthURLHandler  gin.HandlerFunc
	GoogleCallbackHandler gin.HandlerFunc

	HealthHandler gin.HandlerFunc
}

// Services are the collaborators the handlers call into.
type Services struct {
	Reservations   booking.ReservationService
	Payments       PaymentInitiator
	Webhooks       WebhookProcessor
	StripeVerifier *payment.StripeVerifier
	Calendar       CalendarAuthorizer
	// Tokens signs the consent flow state; required with Calendar.
	Tokens         StateSigner
}

func NewHandlerBundle(s Services) *HandlerBundle {
	hb := &HandlerBundle{
		ReserveHandler:            ReserveHandler(s.Reservations),
		GetByClientRequestHandler: GetByClientRequestHandler(s.Reservations),
		InitiatePaymentHandler:    InitiatePaymentHandler(s.Payments),
		YooKassaWebhookHandler:    YooKassaWebhookHandler(s.Webhooks),
		HealthHandler:             HealthHandler,
	}
	if s.StripeVerifier != nil {
		hb.StripeWebhookHandler = StripeWebhookHandler(s.Webhooks, *s.StripeVerifier)
	}
	if s.Calendar != nil && s.Tokens != nil {
		hb.GoogleAuthURLHandler = GoogleAuthURLHandler(s.Calendar, s.Tokens)
		hb.GoogleCallbackHandler = GoogleCallbackHandler(s.Calendar, s.Tokens)
	}
	return hb
}
