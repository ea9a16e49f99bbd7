package models

import "time"

type IntegrationStatus string

const (
	IntegrationDisconnected IntegrationStatus = "disconnected"
	IntegrationPending      IntegrationStatus = "pending"
	IntegrationConnected    IntegrationStatus = "connected"
	IntegrationError        IntegrationStatus = "error"
)

// PrimaryIntegrationID is the id of the single active calendar integration.
const PrimaryIntegrationID = "primary"

// GoogleCalendarIntegration holds the connected calendar and its OAuth tokens.
// Tokens are stored encrypted.
type GoogleCalendarIntegration struct {
	ID                    string            `bson:"id" json:"id"`
	Status                IntegrationStatus `bson:"status" json:"status"`
	CalendarID            string            `bson:"calendarId,omitempty" json:"calendarId,omitempty"`
	Timezone              string            `bson:"timezone,omitempty" json:"timezone,omitempty"`
	EncryptedAccessToken  string            `bson:"encryptedAccessToken,omitempty" json:"-"`
	EncryptedRefreshToken string            `bson:"encryptedRefreshToken,omitempty" json:"-"`
	TokenExpiresAt        *time.Time        `bson:"tokenExpiresAt,omitempty" json:"tokenExpiresAt,omitempty"`
	LastSyncFrom          *time.Time        `bson:"lastSyncFrom,omitempty" json:"lastSyncFrom,omitempty"`
	LastSyncTo            *time.Time        `bson:"lastSyncTo,omitempty" json:"lastSyncTo,omitempty"`
	LastSyncAt            *time.Time        `bson:"lastSyncAt,omitempty" json:"lastSyncAt,omitempty"`
	LastSyncError         string            `bson:"lastSyncError,omitempty" json:"lastSyncError,omitempty"`
	UpdatedAt             time.Time         `bson:"updatedAt" json:"updatedAt"`
}
