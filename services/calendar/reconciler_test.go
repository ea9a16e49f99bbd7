package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"psychology/models"
	"psychology/services/alerts"
	"psychology/utils"

	"google.golang.org/api/googleapi"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func confirmedAppointment(id string, start time.Time) models.Appointment {
	return models.Appointment{
		ID:         id,
		ServiceID:  "svc-1",
		StartAtUTC: start,
		EndAtUTC:   start.Add(50 * time.Minute),
		Timezone:   "UTC",
		Format:     models.FormatOnline,
		Status:     models.AppointmentConfirmed,
	}
}

type harness struct {
	appts        *fakeAppointments
	slots        *fakeSlots
	integrations *fakeIntegrations
	api          *fakeCalendarAPI
	alerter      Alerter
	clock        *manualClock
	reconciler   *Reconciler
}

func newHarness(alerter Alerter, appts ...models.Appointment) *harness {
	h := &harness{
		appts:        newFakeAppointments(appts...),
		slots:        &fakeSlots{},
		integrations: connectedIntegration(),
		api:          &fakeCalendarAPI{},
		alerter:      alerter,
		clock:        &manualClock{now: now},
	}
	if h.alerter == nil {
		h.alerter = &countingAlerter{}
	}
	caller := utils.NewRetryingCaller("calendar", 0, 0, 3, nil)
	h.reconciler = NewReconciler(h.appts, h.slots, h.integrations, staticClients{api: h.api}, passthroughTx{}, caller, h.alerter, h.clock, nil,
		ReconcilerConfig{Lookahead: 30 * 24 * time.Hour, BackfillBatch: 50})
	return h
}

func TestCreateEventFor(t *testing.T) {
	t.Run("Given two concurrent calls When the API returns evt-A and evt-B Then exactly one id is stored and never overwritten", func(t *testing.T) {
		h := newHarness(nil, confirmedAppointment("appt-1", now.Add(24*time.Hour)))

		var arrived sync.WaitGroup
		arrived.Add(2)
		var mu sync.Mutex
		ids := []string{"evt-A", "evt-B"}
		h.api.CreateEventFunc = func(ctx context.Context, calendarID string, event EventInput) (string, error) {
			arrived.Done()
			arrived.Wait()
			mu.Lock()
			defer mu.Unlock()
			id := ids[0]
			ids = ids[1:]
			return id, nil
		}

		outcomes := make([]CreateOutcome, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				outcomes[i], err = h.reconciler.CreateEventFor(context.Background(), "appt-1")
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		created, orphaned := 0, 0
		for _, o := range outcomes {
			switch o {
			case OutcomeCreated:
				created++
			case OutcomeOrphaned:
				orphaned++
			}
		}
		if created != 1 || orphaned != 1 {
			t.Fatalf("expected one created and one orphaned, got %v", outcomes)
		}
		stored := h.appts.get("appt-1").ExternalCalendarEventID
		if stored == nil || (*stored != "evt-A" && *stored != "evt-B") {
			t.Fatalf("expected evt-A or evt-B stored, got %v", stored)
		}

		first := *stored
		if outcome, _ := h.reconciler.CreateEventFor(context.Background(), "appt-1"); outcome != OutcomeSkipped {
			t.Errorf("expected skip once an id is stored, got %s", outcome)
		}
		if got := *h.appts.get("appt-1").ExternalCalendarEventID; got != first {
			t.Errorf("expected %s to stay, got %s", first, got)
		}
	})

	t.Run("Given an unconfirmed appointment When called Then the API is not touched", func(t *testing.T) {
		appt := confirmedAppointment("appt-2", now.Add(time.Hour))
		appt.Status = models.AppointmentPendingPayment
		h := newHarness(nil, appt)

		outcome, err := h.reconciler.CreateEventFor(context.Background(), "appt-2")
		if err != nil || outcome != OutcomeSkipped {
			t.Fatalf("expected skip, got %s (%v)", outcome, err)
		}
		if h.api.CreateCallCount() != 0 {
			t.Error("expected no remote call")
		}
	})

	t.Run("Given a disconnected integration When called Then ErrNotConnected", func(t *testing.T) {
		h := newHarness(nil, confirmedAppointment("appt-3", now.Add(time.Hour)))
		h.integrations.integration.Status = models.IntegrationDisconnected

		if _, err := h.reconciler.CreateEventFor(context.Background(), "appt-3"); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("Given a transient API failure When called Then it is retried", func(t *testing.T) {
		h := newHarness(nil, confirmedAppointment("appt-4", now.Add(time.Hour)))
		calls := 0
		h.api.CreateEventFunc = func(ctx context.Context, calendarID string, event EventInput) (string, error) {
			calls++
			if calls == 1 {
				return "", &googleapi.Error{Code: 503}
			}
			return "evt-retry", nil
		}

		outcome, err := h.reconciler.CreateEventFor(context.Background(), "appt-4")
		if err != nil || outcome != OutcomeCreated {
			t.Fatalf("expected created after retry, got %s (%v)", outcome, err)
		}
		if calls != 2 {
			t.Errorf("expected 2 calls, got %d", calls)
		}
	})

	t.Run("Given no calendar id yet When called Then the primary calendar is discovered and stored", func(t *testing.T) {
		h := newHarness(nil, confirmedAppointment("appt-5", now.Add(time.Hour)))
		h.integrations.integration.CalendarID = ""
		h.api.PrimaryCalendarFunc = func(ctx context.Context) (string, string, error) {
			return "owner@example.com", "Europe/Berlin", nil
		}
		var usedCalendar string
		h.api.CreateEventFunc = func(ctx context.Context, calendarID string, event EventInput) (string, error) {
			usedCalendar = calendarID
			return "evt-5", nil
		}

		if _, err := h.reconciler.CreateEventFor(context.Background(), "appt-5"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if usedCalendar != "owner@example.com" || h.integrations.integration.CalendarID != "owner@example.com" {
			t.Errorf("expected discovered calendar to be used and stored, got %q / %q", usedCalendar, h.integrations.integration.CalendarID)
		}
	})
}

func TestReplaceEventFor(t *testing.T) {
	appt := confirmedAppointment("appt-1", now.Add(time.Hour))
	stale := "evt-stale"
	appt.ExternalCalendarEventID = &stale
	h := newHarness(nil, appt)
	h.api.CreateEventFunc = func(ctx context.Context, calendarID string, event EventInput) (string, error) {
		return "evt-fresh", nil
	}

	outcome, err := h.reconciler.ReplaceEventFor(context.Background(), "appt-1", "evt-stale")
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected replacement, got %s (%v)", outcome, err)
	}
	if got := *h.appts.get("appt-1").ExternalCalendarEventID; got != "evt-fresh" {
		t.Errorf("expected evt-fresh, got %s", got)
	}

	outcome, _ = h.reconciler.ReplaceEventFor(context.Background(), "appt-1", "evt-stale")
	if outcome != OutcomeAlreadyFixed {
		t.Errorf("expected already fixed on second call, got %s", outcome)
	}
}

func TestSyncBusyTimes(t *testing.T) {
	own := confirmedAppointment("appt-own", now.Add(2*time.Hour))
	external := models.BusyInterval{Start: now.Add(5 * time.Hour), End: now.Add(6 * time.Hour)}

	h := newHarness(nil, own)
	h.slots.items = []models.AvailabilitySlot{{
		ID:         "product-1",
		StartAtUTC: now.Add(5 * time.Hour),
		EndAtUTC:   now.Add(6 * time.Hour),
		Status:     models.SlotAvailable,
		Source:     models.SlotSourceProduct,
	}}
	h.api.FreeBusyFunc = func(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
		return []models.BusyInterval{{Start: own.StartAtUTC, End: own.EndAtUTC}, external}, nil
	}

	from, to := now, now.Add(24*time.Hour)
	first := h.reconciler.SyncBusyTimes(context.Background(), from, to)
	if !first.OK {
		t.Fatalf("expected sync to succeed, got %v", first.Err)
	}
	if first.Busy != 2 || first.Skipped != 1 || first.Created != 1 {
		t.Errorf("expected 2 busy, 1 skipped, 1 created, got %+v", first)
	}
	afterFirst := h.slots.snapshot()

	second := h.reconciler.SyncBusyTimes(context.Background(), from, to)
	if !second.OK || second.Deleted != 1 || second.Created != 1 {
		t.Errorf("expected second run to replace the one block, got %+v", second)
	}
	afterSecond := h.slots.snapshot()

	if len(afterFirst) != 2 || len(afterSecond) != 2 {
		t.Fatalf("expected product slot plus one block, got %d then %d", len(afterFirst), len(afterSecond))
	}
	for i := range afterFirst {
		if afterFirst[i].ID != afterSecond[i].ID || afterFirst[i].Status != afterSecond[i].Status {
			t.Errorf("expected identical slot sets, got %+v vs %+v", afterFirst[i], afterSecond[i])
		}
	}
	for _, s := range afterSecond {
		if s.ID == "product-1" && s.Status != models.SlotAvailable {
			t.Error("expected product slot untouched")
		}
	}
	if len(h.integrations.syncs) != 2 || h.integrations.syncs[1].Error != "" {
		t.Errorf("expected two successful sync records, got %+v", h.integrations.syncs)
	}
}

func TestRunSyncTick(t *testing.T) {
	t.Run("Given free/busy keeps failing When ticks run Then backfill is skipped and the alert fires once per interval", func(t *testing.T) {
		throttle, err := alerts.NewMemoryThrottle(15 * time.Minute)
		if err != nil {
			t.Fatalf("throttle: %v", err)
		}
		sink := &countingSink{}
		clock := &manualClock{now: now}
		alerter := alerts.NewAlerter(throttle, clock, nil, sink)

		h := newHarness(alerter, confirmedAppointment("appt-1", now.Add(time.Hour)))
		h.clock = clock
		h.reconciler.clock = clock
		h.api.FreeBusyFunc = func(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
			return nil, &googleapi.Error{Code: 500}
		}

		for i := 0; i < 3; i++ {
			tick := h.reconciler.RunSyncTick(context.Background())
			if tick.Sync.OK {
				t.Fatal("expected sync failure")
			}
			clock.Advance(5 * time.Minute)
		}

		if h.api.CreateCallCount() != 0 {
			t.Errorf("expected no backfill, got %d create calls", h.api.CreateCallCount())
		}
		if sink.CallCount() != 1 {
			t.Errorf("expected 1 alert notification, got %d", sink.CallCount())
		}
		if h.api.FreeBusyCallCount() != 9 {
			t.Errorf("expected 3 attempts per tick, got %d", h.api.FreeBusyCallCount())
		}
	})

	t.Run("Given a successful sync When one appointment fails Then the rest are still backfilled", func(t *testing.T) {
		alerter := &countingAlerter{}
		h := newHarness(alerter,
			confirmedAppointment("appt-bad", now.Add(time.Hour)),
			confirmedAppointment("appt-good", now.Add(3*time.Hour)),
		)
		h.api.CreateEventFunc = func(ctx context.Context, calendarID string, event EventInput) (string, error) {
			if event.Description == "Appointment appt-bad" {
				return "", &googleapi.Error{Code: 400}
			}
			return "evt-good", nil
		}

		tick := h.reconciler.RunSyncTick(context.Background())
		if !tick.Sync.OK {
			t.Fatalf("expected sync success, got %v", tick.Sync.Err)
		}
		if tick.Backfilled != 1 || tick.Failed != 1 {
			t.Errorf("expected 1 backfilled and 1 failed, got %+v", tick)
		}
		if h.appts.get("appt-good").ExternalCalendarEventID == nil {
			t.Error("expected good appointment to get its event")
		}
		if alerter.CallCount() != 1 {
			t.Errorf("expected 1 alert, got %d", alerter.CallCount())
		}
	})
}

func TestRunSyncTickNotConnected(t *testing.T) {
	tests := []struct {
		name   string
		status models.IntegrationStatus
	}{
		{"disconnected", models.IntegrationDisconnected},
		{"consent pending", models.IntegrationPending},
	}
	for _, tc := range tests {
		t.Run("Given a "+tc.name+" integration When ticks run Then nothing is alerted", func(t *testing.T) {
			alerter := &countingAlerter{}
			h := newHarness(alerter, confirmedAppointment("appt-1", now.Add(time.Hour)))
			h.integrations.integration.Status = tc.status

			for i := 0; i < 3; i++ {
				tick := h.reconciler.RunSyncTick(context.Background())
				if tick.Sync.OK || !errors.Is(tick.Sync.Err, ErrNotConnected) {
					t.Fatalf("expected ErrNotConnected, got %+v", tick.Sync)
				}
			}

			if alerter.CallCount() != 0 {
				t.Errorf("expected no alerts, got %d", alerter.CallCount())
			}
			if h.api.FreeBusyCallCount() != 0 || h.api.CreateCallCount() != 0 {
				t.Error("expected no calendar calls")
			}
		})
	}
}

type countingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSink) Send(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *countingSink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
