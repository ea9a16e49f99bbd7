// File: database/repository/payment/events.go
package paymentRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"psychology/database"
	"psychology/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func eventKey(provider, providerEventID string) bson.M {
	return bson.M{"provider": provider, "providerEventId": providerEventID}
}

func (r *mongoWebhookEventRepo) RecordReceived(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.InsertOne(ctx, event)
	if err == nil {
		return event, true, nil
	}
	if !database.IsDuplicateKey(err) {
		return nil, false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	var stored models.PaymentWebhookEvent
	err = r.coll.FindOne(ctx, eventKey(event.Provider, event.ProviderEventID)).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("%w: %s/%s vanished after duplicate insert", database.ErrNotFound, event.Provider, event.ProviderEventID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load recorded webhook event: %w", err)
	}
	return &stored, false, nil
}

func (r *mongoWebhookEventRepo) MarkProcessed(ctx context.Context, provider, providerEventID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$set":   bson.M{"processedAt": at},
		"$unset": bson.M{"lastError": ""},
	}
	if _, err := r.coll.UpdateOne(ctx, eventKey(provider, providerEventID), update); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (r *mongoWebhookEventRepo) RecordError(ctx context.Context, provider, providerEventID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{"lastError": message}}
	if _, err := r.coll.UpdateOne(ctx, eventKey(provider, providerEventID), update); err != nil {
		return fmt.Errorf("failed to record webhook event error: %w", err)
	}
	return nil
}
