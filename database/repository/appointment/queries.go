// File: database/repository/appointment/queries.go
package appointmentRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"psychology/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *mongoAppointmentRepo) FindOverlapping(ctx context.Context, start, end time.Time) (*models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"status":     bson.M{"$in": models.NonTerminalAppointmentStatuses},
		"startAtUtc": bson.M{"$lt": end},
		"endAtUtc":   bson.M{"$gt": start},
	}

	var appt models.Appointment
	err := r.coll.FindOne(ctx, filter).Decode(&appt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping appointments: %w", err)
	}
	return &appt, nil
}

func (r *mongoAppointmentRepo) ListConfirmedMissingEvent(ctx context.Context, from, to time.Time, limit int) ([]models.Appointment, error) {
	filter := confirmedWindowFilter(from, to)
	filter["externalCalendarEventId"] = nil

	opts := options.Find().SetSort(bson.D{{Key: "startAtUtc", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, filter, opts)
}

func (r *mongoAppointmentRepo) ListConfirmedInWindow(ctx context.Context, from, to time.Time) ([]models.Appointment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startAtUtc", Value: 1}})
	return r.find(ctx, confirmedWindowFilter(from, to), opts)
}

func confirmedWindowFilter(from, to time.Time) bson.M {
	return bson.M{
		"status":     models.AppointmentConfirmed,
		"startAtUtc": bson.M{"$lt": to},
		"endAtUtc":   bson.M{"$gt": from},
	}
}

func (r *mongoAppointmentRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appts []models.Appointment
	if err := cursor.All(ctx, &appts); err != nil {
		return nil, fmt.Errorf("error decoding appointments: %w", err)
	}
	return appts, nil
}
