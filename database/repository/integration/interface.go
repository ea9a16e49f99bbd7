// File: database/repository/integration/interface.go
package integrationRepo

import (
	"context"
	"time"

	"psychology/models"

	"go.mongodb.org/mongo-driver/mongo"
)

const collectionName = "google_calendar_integrations"

// IntegrationRepository manages the single primary calendar integration row.
type IntegrationRepository interface {
	GetPrimary(ctx context.Context) (*models.GoogleCalendarIntegration, error)
	SaveTokens(ctx context.Context, tokens TokenUpdate, now time.Time) error
	SetCalendar(ctx context.Context, calendarID, timezone string, now time.Time) error
	SetStatus(ctx context.Context, status models.IntegrationStatus, now time.Time) error
	RecordSync(ctx context.Context, result SyncRecord) error
	EnsureIndexes(ctx context.Context) error
}

// TokenUpdate carries already encrypted tokens.
type TokenUpdate struct {
	EncryptedAccessToken  string
	EncryptedRefreshToken string // empty keeps the stored refresh token
	ExpiresAt             time.Time
	Status                models.IntegrationStatus
}

// SyncRecord is the outcome of one busy-time sync.
type SyncRecord struct {
	From  time.Time
	To    time.Time
	At    time.Time
	Error string
}

type mongoIntegrationRepo struct {
	coll *mongo.Collection
}

// NewMongoIntegrationRepo constructs a MongoDB IntegrationRepository.
func NewMongoIntegrationRepo(db *mongo.Database) IntegrationRepository {
	return &mongoIntegrationRepo{coll: db.Collection(collectionName)}
}
