package calendar

import (
	"context"
	"errors"
	"time"

	integrationRepo "psychology/database/repository/integration"
	"psychology/models"
)

var ErrNotConnected = errors.New("google calendar is not connected")

// CalendarAPI is the slice of Google Calendar v3 the reconciler uses.
type CalendarAPI interface {
	PrimaryCalendar(ctx context.Context) (calendarID, timezone string, err error)
	FreeBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error)
	CreateEvent(ctx context.Context, calendarID string, event EventInput) (eventID string, err error)
}

type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// ClientFactory builds an authorised CalendarAPI for the stored integration.
type ClientFactory interface {
	ForIntegration(ctx context.Context, integration *models.GoogleCalendarIntegration) (CalendarAPI, error)
}

type AppointmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	SetCalendarEventIDIfAbsent(ctx context.Context, id, eventID string, now time.Time) (bool, error)
	ReplaceCalendarEventID(ctx context.Context, id, staleEventID, eventID string, now time.Time) (bool, error)
	ListConfirmedMissingEvent(ctx context.Context, from, to time.Time, limit int) ([]models.Appointment, error)
	ListConfirmedInWindow(ctx context.Context, from, to time.Time) ([]models.Appointment, error)
}

type SlotStore interface {
	DeleteExternalBlocked(ctx context.Context, from, to time.Time) (int64, error)
	CreateMany(ctx context.Context, slots []models.AvailabilitySlot) error
}

type IntegrationStore interface {
	GetPrimary(ctx context.Context) (*models.GoogleCalendarIntegration, error)
	SaveTokens(ctx context.Context, tokens integrationRepo.TokenUpdate, now time.Time) error
	SetCalendar(ctx context.Context, calendarID, timezone string, now time.Time) error
	SetStatus(ctx context.Context, status models.IntegrationStatus, now time.Time) error
	RecordSync(ctx context.Context, result integrationRepo.SyncRecord) error
}

type Alerter interface {
	Raise(ctx context.Context, key, message string, cause error) bool
}

// Unconfigured is the ClientFactory used when Google OAuth is not set up.
type Unconfigured struct{}

func (Unconfigured) ForIntegration(context.Context, *models.GoogleCalendarIntegration) (CalendarAPI, error) {
	return nil, ErrNotConnected
}
