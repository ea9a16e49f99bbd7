// File: database/repository/slot/crud.go
package slotRepo

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
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *mongoSlotRepo) Create(ctx context.Context, slot *models.AvailabilitySlot) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	if _, err := r.coll.InsertOne(ctx, slot); err != nil {
		return fmt.Errorf("failed to insert slot: %w", err)
	}
	return nil
}

func (r *mongoSlotRepo) CreateMany(ctx context.Context, slots []models.AvailabilitySlot) error {
	if len(slots) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	docs := make([]interface{}, len(slots))
	for i := range slots {
		if slots[i].ID == "" {
			slots[i].ID = uuid.New().String()
		}
		docs[i] = slots[i]
	}
	if _, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to insert slots: %w", err)
	}
	return nil
}

func (r *mongoSlotRepo) GetByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var slot models.AvailabilitySlot
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&slot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch slot %s: %w", id, err)
	}
	return &slot, nil
}

func (r *mongoSlotRepo) ReserveSlotIfAvailable(ctx context.Context, slotID string, now time.Time) (bool, error) {
	return r.transition(ctx, slotID, models.SlotAvailable, models.SlotReserved, now)
}

func (r *mongoSlotRepo) ReleaseSlot(ctx context.Context, slotID string, now time.Time) (bool, error) {
	return r.transition(ctx, slotID, models.SlotReserved, models.SlotAvailable, now)
}

func (r *mongoSlotRepo) transition(ctx context.Context, slotID string, from, to models.SlotStatus, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": slotID, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "updatedAt": now}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to move slot %s from %s to %s: %w", slotID, from, to, err)
	}
	return res.MatchedCount == 1, nil
}

// DeleteExternalBlocked removes calendar busy blocks intersecting [from, to).
// Product slots are never matched.
func (r *mongoSlotRepo) DeleteExternalBlocked(ctx context.Context, from, to time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.DeleteMany(ctx, externalBlockedFilter(from, to))
	if err != nil {
		return 0, fmt.Errorf("failed to delete external blocked slots: %w", err)
	}
	return res.DeletedCount, nil
}

func externalBlockedFilter(from, to time.Time) bson.M {
	return bson.M{
		"source":     models.SlotSourceExternal,
		"status":     models.SlotBlocked,
		"startAtUtc": bson.M{"$lt": to},
		"endAtUtc":   bson.M{"$gt": from},
	}
}
