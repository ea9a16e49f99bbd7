// FILE: database/repository/payment/indexes.go
package paymentRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes on the payments collection.
func (r *mongoPaymentRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "providerPaymentId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_provider_payment"),
		},
		{
			Keys: bson.D{{Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("unique_idempotency_key").
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "appointmentId", Value: 1}},
			Options: options.Index().SetName("appointment_idx"),
		},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create payment indexes: %w", err)
	}
	return nil
}

// EnsureIndexes creates the dedup index on payment_webhook_events.
func (r *mongoWebhookEventRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "providerEventId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("unique_provider_event"),
	}
	if _, err := r.coll.Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("failed to create webhook event index: %w", err)
	}
	return nil
}
