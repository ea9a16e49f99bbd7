// File: database/repository/appointment/crud.go
package appointmentRepo

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

func (r *mongoAppointmentRepo) Create(ctx context.Context, appt *models.Appointment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if appt.ID == "" {
		appt.ID = uuid.New().String()
	}
	if _, err := r.coll.InsertOne(ctx, appt); err != nil {
		if database.IsDuplicateKey(err) && appt.ClientRequestID != nil {
			return fmt.Errorf("%w: %s", database.ErrDuplicateClientRequest, *appt.ClientRequestID)
		}
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (r *mongoAppointmentRepo) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *mongoAppointmentRepo) GetByClientRequestID(ctx context.Context, clientRequestID string) (*models.Appointment, error) {
	return r.findOne(ctx, bson.M{"clientRequestId": clientRequestID})
}

func (r *mongoAppointmentRepo) findOne(ctx context.Context, filter bson.M) (*models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var appt models.Appointment
	err := r.coll.FindOne(ctx, filter).Decode(&appt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointment: %w", err)
	}
	return &appt, nil
}

func (r *mongoAppointmentRepo) TransitionStatusIf(ctx context.Context, id string, from, to models.AppointmentStatus, now time.Time) (bool, error) {
	return r.conditionalSet(ctx,
		bson.M{"id": id, "status": from},
		bson.M{"status": to, "updatedAt": now},
	)
}

func (r *mongoAppointmentRepo) SetCalendarEventIDIfAbsent(ctx context.Context, id, eventID string, now time.Time) (bool, error) {
	// {field: nil} matches both a missing field and an explicit null.
	return r.conditionalSet(ctx,
		bson.M{"id": id, "externalCalendarEventId": nil},
		bson.M{"externalCalendarEventId": eventID, "updatedAt": now},
	)
}

func (r *mongoAppointmentRepo) ReplaceCalendarEventID(ctx context.Context, id, staleEventID, eventID string, now time.Time) (bool, error) {
	return r.conditionalSet(ctx,
		bson.M{"id": id, "externalCalendarEventId": staleEventID},
		bson.M{"externalCalendarEventId": eventID, "updatedAt": now},
	)
}

func (r *mongoAppointmentRepo) conditionalSet(ctx context.Context, filter, set bson.M) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to update appointment: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *mongoAppointmentRepo) TouchLedger(ctx context.Context, day string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$inc": bson.M{"version": 1},
		"$set": bson.M{"updatedAt": now},
	}
	_, err := r.ledger.UpdateOne(ctx, bson.M{"day": day}, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two first-of-the-day upserts racing on the unique index lose the same way a write conflict does.
		if database.IsDuplicateKey(err) {
			return fmt.Errorf("%w: ledger day %s", database.ErrTxConflict, day)
		}
		return fmt.Errorf("failed to touch booking ledger for %s: %w", day, err)
	}
	return nil
}
