// File: database/repository/payment/crud.go
package paymentRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"psychology/database"
	"psychology/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func (r *mongoPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if _, err := r.coll.InsertOne(ctx, payment); err != nil {
		if database.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %s/%s", database.ErrDuplicatePayment, payment.Provider, payment.ProviderPaymentID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *mongoPaymentRepo) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *mongoPaymentRepo) GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	return r.findOne(ctx, bson.M{"provider": provider, "providerPaymentId": providerPaymentID})
}

func (r *mongoPaymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	return r.findOne(ctx, bson.M{"idempotencyKey": key})
}

func (r *mongoPaymentRepo) findOne(ctx context.Context, filter bson.M) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var payment models.Payment
	err := r.coll.FindOne(ctx, filter).Decode(&payment)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	return &payment, nil
}

func (r *mongoPaymentRepo) TransitionIfStatus(ctx context.Context, id string, from models.PaymentStatus, change StatusChange) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"status": change.To}
	if change.ConfirmedAt != nil {
		set["confirmedAt"] = *change.ConfirmedAt
	}
	if change.FailureCategory != nil {
		set["failureCategory"] = *change.FailureCategory
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to move payment %s to %s: %w", id, change.To, err)
	}
	return res.MatchedCount == 1, nil
}
