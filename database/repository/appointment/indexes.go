// FILE: database/repository/appointment/indexes.go
package appointmentRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes on appointments and the booking ledger.
func (r *mongoAppointmentRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		// Unique only when present; requests without an idempotency key are not constrained.
		{
			Keys: bson.D{{Key: "clientRequestId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("unique_client_request_id").
				SetPartialFilterExpression(bson.M{"clientRequestId": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "startAtUtc", Value: 1}, {Key: "endAtUtc", Value: 1}},
			Options: options.Index().SetName("status_window_idx"),
		},
		{
			Keys:    bson.D{{Key: "slotId", Value: 1}},
			Options: options.Index().SetName("slot_idx"),
		},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create appointment indexes: %w", err)
	}

	ledgerIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("unique_day"),
	}
	if _, err := r.ledger.Indexes().CreateOne(ctx, ledgerIndex); err != nil {
		return fmt.Errorf("failed to create booking ledger index: %w", err)
	}
	return nil
}
