// File: database/repository/payment/interface.go
package paymentRepo

import (
	"context"
	"time"

	"psychology/models"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	paymentsCollection = "payments"
	eventsCollection   = "payment_webhook_events"
)

type PaymentRepository interface {
	// Create inserts a payment. A reused (provider, providerPaymentId) or idempotency key yields database.ErrDuplicatePayment.
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	// TransitionIfStatus moves a payment out of from; false means it was no longer in from.
	TransitionIfStatus(ctx context.Context, id string, from models.PaymentStatus, change StatusChange) (bool, error)
	EnsureIndexes(ctx context.Context) error
}

// StatusChange describes the target state of a conditional payment transition.
type StatusChange struct {
	To              models.PaymentStatus
	ConfirmedAt     *time.Time
	FailureCategory *string
}

type WebhookEventRepository interface {
	// RecordReceived inserts the event. When it already exists the stored row is
	// returned with fresh=false.
	RecordReceived(ctx context.Context, event *models.PaymentWebhookEvent) (stored *models.PaymentWebhookEvent, fresh bool, err error)
	MarkProcessed(ctx context.Context, provider, providerEventID string, at time.Time) error
	RecordError(ctx context.Context, provider, providerEventID, message string) error
	EnsureIndexes(ctx context.Context) error
}

type mongoPaymentRepo struct {
	coll *mongo.Collection
}

type mongoWebhookEventRepo struct {
	coll *mongo.Collection
}

// NewMongoPaymentRepo constructs a MongoDB PaymentRepository.
func NewMongoPaymentRepo(db *mongo.Database) PaymentRepository {
	return &mongoPaymentRepo{coll: db.Collection(paymentsCollection)}
}

// NewMongoWebhookEventRepo constructs a MongoDB WebhookEventRepository.
func NewMongoWebhookEventRepo(db *mongo.Database) WebhookEventRepository {
	return &mongoWebhookEventRepo{coll: db.Collection(eventsCollection)}
}
