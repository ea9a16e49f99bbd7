package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentFailed    PaymentStatus = "failed"
)

// IsFinal is true once a payment can no longer transition.
func (s PaymentStatus) IsFinal() bool {
	return s != PaymentPending
}

const (
	ProviderYooKassa = "yookassa"
	ProviderStripe   = "stripe"
)

// Payment tracks one provider-side payment for an appointment.
type Payment struct {
	ID                string        `bson:"id" json:"id"`
	AppointmentID     string        `bson:"appointmentId" json:"appointmentId"`
	Provider          string        `bson:"provider" json:"provider"`
	ProviderPaymentID string        `bson:"providerPaymentId" json:"providerPaymentId"`
	Amount            string        `bson:"amount" json:"amount"` // decimal string, e.g. "3500.00"
	Currency          string        `bson:"currency" json:"currency"`
	Status            PaymentStatus `bson:"status" json:"status"`
	IdempotencyKey    *string       `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	FailureCategory   *string       `bson:"failureCategory,omitempty" json:"failureCategory,omitempty"`
	ConfirmationURL   string        `bson:"confirmationUrl,omitempty" json:"confirmationUrl,omitempty"`
	ClientSecret      string        `bson:"-" json:"clientSecret,omitempty"` // only returned at creation
	CreatedAt         time.Time     `bson:"createdAt" json:"createdAt"`
	ConfirmedAt       *time.Time    `bson:"confirmedAt,omitempty" json:"confirmedAt,omitempty"`
}

// PaymentWebhookEvent deduplicates at-least-once webhook delivery.
type PaymentWebhookEvent struct {
	Provider        string     `bson:"provider" json:"provider"`
	ProviderEventID string     `bson:"providerEventId" json:"providerEventId"`
	EventType       string     `bson:"eventType,omitempty" json:"eventType,omitempty"`
	ReceivedAt      time.Time  `bson:"receivedAt" json:"receivedAt"`
	ProcessedAt     *time.Time `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	LastError       string     `bson:"lastError,omitempty" json:"lastError,omitempty"`
}

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"

	// EventPaymentFailed is an attempt that failed while the payment can still be retried.
	EventPaymentFailed = "payment.failed"
)

// PaymentEvent is a provider webhook normalised to the fields processing needs.
type PaymentEvent struct {
	Type              string
	ProviderPaymentID string
	Status            string
	Amount            string
	Currency          string
	CancelReason      string
}
