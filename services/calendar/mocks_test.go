package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"psychology/database"
	integrationRepo "psychology/database/repository/integration"
	"psychology/models"
)

type fakeAppointments struct {
	mu    sync.Mutex
	items map[string]models.Appointment
}

func newFakeAppointments(appts ...models.Appointment) *fakeAppointments {
	f := &fakeAppointments{items: make(map[string]models.Appointment)}
	for _, a := range appts {
		f.items[a.ID] = a
	}
	return f
}

func (f *fakeAppointments) get(id string) models.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

func (f *fakeAppointments) GetByID(_ context.Context, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &a, nil
}

func (f *fakeAppointments) SetCalendarEventIDIfAbsent(_ context.Context, id, eventID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok || a.ExternalCalendarEventID != nil {
		return false, nil
	}
	a.ExternalCalendarEventID = &eventID
	a.UpdatedAt = now
	f.items[id] = a
	return true, nil
}

func (f *fakeAppointments) ReplaceCalendarEventID(_ context.Context, id, stale, eventID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok || a.ExternalCalendarEventID == nil || *a.ExternalCalendarEventID != stale {
		return false, nil
	}
	a.ExternalCalendarEventID = &eventID
	a.UpdatedAt = now
	f.items[id] = a
	return true, nil
}

func (f *fakeAppointments) confirmedInWindow(from, to time.Time, missingOnly bool) []models.Appointment {
	var out []models.Appointment
	for _, a := range f.items {
		if a.Status != models.AppointmentConfirmed || !a.StartAtUTC.Before(to) || !a.EndAtUTC.After(from) {
			continue
		}
		if missingOnly && a.ExternalCalendarEventID != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAtUTC.Before(out[j].StartAtUTC) })
	return out
}

func (f *fakeAppointments) ListConfirmedMissingEvent(_ context.Context, from, to time.Time, limit int) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.confirmedInWindow(from, to, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAppointments) ListConfirmedInWindow(_ context.Context, from, to time.Time) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmedInWindow(from, to, false), nil
}

type fakeSlots struct {
	mu    sync.Mutex
	items []models.AvailabilitySlot
}

func (f *fakeSlots) DeleteExternalBlocked(_ context.Context, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.AvailabilitySlot
	var deleted int64
	for _, s := range f.items {
		if s.Source == models.SlotSourceExternal && s.Status == models.SlotBlocked && s.StartAtUTC.Before(to) && s.EndAtUTC.After(from) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	f.items = kept
	return deleted, nil
}

func (f *fakeSlots) CreateMany(_ context.Context, slots []models.AvailabilitySlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, slots...)
	return nil
}

func (f *fakeSlots) snapshot() []models.AvailabilitySlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.AvailabilitySlot(nil), f.items...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeIntegrations struct {
	mu          sync.Mutex
	integration *models.GoogleCalendarIntegration
	syncs       []integrationRepo.SyncRecord
}

func connectedIntegration() *fakeIntegrations {
	return &fakeIntegrations{integration: &models.GoogleCalendarIntegration{
		ID:         models.PrimaryIntegrationID,
		Status:     models.IntegrationConnected,
		CalendarID: "primary@example.com",
		Timezone:   "UTC",
	}}
}

func (f *fakeIntegrations) GetPrimary(context.Context) (*models.GoogleCalendarIntegration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.integration == nil {
		return nil, database.ErrNotFound
	}
	copied := *f.integration
	return &copied, nil
}

func (f *fakeIntegrations) SaveTokens(_ context.Context, tokens integrationRepo.TokenUpdate, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.integration == nil {
		f.integration = &models.GoogleCalendarIntegration{ID: models.PrimaryIntegrationID}
	}
	f.integration.EncryptedAccessToken = tokens.EncryptedAccessToken
	if tokens.EncryptedRefreshToken != "" {
		f.integration.EncryptedRefreshToken = tokens.EncryptedRefreshToken
	}
	expires := tokens.ExpiresAt
	f.integration.TokenExpiresAt = &expires
	if tokens.Status != "" {
		f.integration.Status = tokens.Status
	}
	return nil
}

func (f *fakeIntegrations) SetCalendar(_ context.Context, calendarID, timezone string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integration.CalendarID = calendarID
	f.integration.Timezone = timezone
	return nil
}

func (f *fakeIntegrations) SetStatus(_ context.Context, status models.IntegrationStatus, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.integration == nil {
		f.integration = &models.GoogleCalendarIntegration{ID: models.PrimaryIntegrationID}
	}
	f.integration.Status = status
	return nil
}

func (f *fakeIntegrations) RecordSync(_ context.Context, record integrationRepo.SyncRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, record)
	return nil
}

type fakeCalendarAPI struct {
	mu                  sync.Mutex
	PrimaryCalendarFunc func(ctx context.Context) (string, string, error)
	FreeBusyFunc        func(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error)
	CreateEventFunc     func(ctx context.Context, calendarID string, event EventInput) (string, error)
	createCalls         int
	freeBusyCalls       int
}

func (f *fakeCalendarAPI) PrimaryCalendar(ctx context.Context) (string, string, error) {
	if f.PrimaryCalendarFunc != nil {
		return f.PrimaryCalendarFunc(ctx)
	}
	return "primary@example.com", "UTC", nil
}

func (f *fakeCalendarAPI) FreeBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
	f.mu.Lock()
	f.freeBusyCalls++
	f.mu.Unlock()
	if f.FreeBusyFunc != nil {
		return f.FreeBusyFunc(ctx, calendarID, from, to)
	}
	return nil, nil
}

func (f *fakeCalendarAPI) CreateEvent(ctx context.Context, calendarID string, event EventInput) (string, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.CreateEventFunc != nil {
		return f.CreateEventFunc(ctx, calendarID, event)
	}
	return "evt-1", nil
}

func (f *fakeCalendarAPI) CreateCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeCalendarAPI) FreeBusyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeBusyCalls
}

type staticClients struct{ api CalendarAPI }

func (s staticClients) ForIntegration(_ context.Context, integration *models.GoogleCalendarIntegration) (CalendarAPI, error) {
	if integration.Status != models.IntegrationConnected {
		return nil, ErrNotConnected
	}
	return s.api, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type countingAlerter struct {
	mu   sync.Mutex
	keys []string
}

func (a *countingAlerter) Raise(_ context.Context, key, _ string, _ error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return true
}

func (a *countingAlerter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
