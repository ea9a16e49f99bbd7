// File: database/repository/integration/crud.go
package integrationRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"psychology/database"
	"psychology/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var primaryFilter = bson.M{"id": models.PrimaryIntegrationID}

func (r *mongoIntegrationRepo) GetPrimary(ctx context.Context) (*models.GoogleCalendarIntegration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var integration models.GoogleCalendarIntegration
	err := r.coll.FindOne(ctx, primaryFilter).Decode(&integration)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar integration: %w", err)
	}
	return &integration, nil
}

func (r *mongoIntegrationRepo) SaveTokens(ctx context.Context, tokens TokenUpdate, now time.Time) error {
	set := bson.M{
		"encryptedAccessToken": tokens.EncryptedAccessToken,
		"tokenExpiresAt":       tokens.ExpiresAt,
		"updatedAt":            now,
	}
	if tokens.EncryptedRefreshToken != "" {
		set["encryptedRefreshToken"] = tokens.EncryptedRefreshToken
	}
	if tokens.Status != "" {
		set["status"] = tokens.Status
	}
	return r.upsert(ctx, set)
}

func (r *mongoIntegrationRepo) SetCalendar(ctx context.Context, calendarID, timezone string, now time.Time) error {
	return r.upsert(ctx, bson.M{"calendarId": calendarID, "timezone": timezone, "updatedAt": now})
}

func (r *mongoIntegrationRepo) SetStatus(ctx context.Context, status models.IntegrationStatus, now time.Time) error {
	return r.upsert(ctx, bson.M{"status": status, "updatedAt": now})
}

func (r *mongoIntegrationRepo) RecordSync(ctx context.Context, result SyncRecord) error {
	return r.upsert(ctx, bson.M{
		"lastSyncFrom":  result.From,
		"lastSyncTo":    result.To,
		"lastSyncAt":    result.At,
		"lastSyncError": result.Error,
		"updatedAt":     result.At,
	})
}

func (r *mongoIntegrationRepo) upsert(ctx context.Context, set bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// The id comes from the equality filter on insert.
	update := bson.M{"$set": set}
	if _, ok := set["status"]; !ok {
		update["$setOnInsert"] = bson.M{"status": models.IntegrationPending}
	}
	if _, err := r.coll.UpdateOne(ctx, primaryFilter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to update calendar integration: %w", err)
	}
	return nil
}
