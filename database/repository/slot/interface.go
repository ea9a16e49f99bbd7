// File: database/repository/slot/interface.go
package slotRepo

import (
	"context"
	"time"

	"psychology/models"

	"go.mongodb.org/mongo-driver/mongo"
)

const collectionName = "availability_slots"

type SlotRepository interface {
	Create(ctx context.Context, slot *models.AvailabilitySlot) error
	CreateMany(ctx context.Context, slots []models.AvailabilitySlot) error
	GetByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	// ReserveSlotIfAvailable flips available→reserved; false means another caller won.
	ReserveSlotIfAvailable(ctx context.Context, slotID string, now time.Time) (bool, error)
	// ReleaseSlot flips reserved→available; false means it was not reserved.
	ReleaseSlot(ctx context.Context, slotID string, now time.Time) (bool, error)
	ListExternalBlocked(ctx context.Context, from, to time.Time) ([]models.AvailabilitySlot, error)
	DeleteExternalBlocked(ctx context.Context, from, to time.Time) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type mongoSlotRepo struct {
	coll *mongo.Collection
}

// NewMongoSlotRepo constructs a MongoDB SlotRepository.
func NewMongoSlotRepo(db *mongo.Database) SlotRepository {
	return &mongoSlotRepo{coll: db.Collection(collectionName)}
}
