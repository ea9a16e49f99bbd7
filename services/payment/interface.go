package payment

import (
	"context"
	"time"

	paymentRepo "psychology/database/repository/payment"
	"psychology/models"

	"github.com/shopspring/decimal"
)

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	TransitionIfStatus(ctx context.Context, id string, from models.PaymentStatus, change paymentRepo.StatusChange) (bool, error)
}

type WebhookEventStore interface {
	RecordReceived(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, bool, error)
	MarkProcessed(ctx context.Context, provider, providerEventID string, at time.Time) error
	RecordError(ctx context.Context, provider, providerEventID, message string) error
}

type AppointmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	TransitionStatusIf(ctx context.Context, id string, from, to models.AppointmentStatus, now time.Time) (bool, error)
}

type SlotStore interface {
	ReleaseSlot(ctx context.Context, slotID string, now time.Time) (bool, error)
}

// FollowUp runs the post-confirmation work for an appointment, such as
// creating its calendar event. Errors are logged by the caller, never
// propagated to the webhook response.
type FollowUp interface {
	AppointmentConfirmed(ctx context.Context, appointmentID string) error
}

type Alerter interface {
	Raise(ctx context.Context, key, message string, cause error) bool
}

// Decoder normalises one provider's webhook payload.
type Decoder interface {
	Decode(payload []byte) (*models.PaymentEvent, error)
}

// Gateway creates payments at a provider.
type Gateway interface {
	Provider() string
	CreatePayment(ctx context.Context, req CreateRequest) (*CreatedPayment, error)
}

type CreateRequest struct {
	AppointmentID  string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
	ReturnURL      string
}

type CreatedPayment struct {
	ProviderPaymentID string
	Status            models.PaymentStatus
	ConfirmationURL   string
	ClientSecret      string
}

// PaymentLookup reads a payment's current state back from the provider.
type PaymentLookup interface {
	GetPayment(ctx context.Context, providerPaymentID string) (*ProviderPayment, error)
}

type ProviderPayment struct {
	ID       string
	Status   models.PaymentStatus
	Amount   string
	Currency string
}
