package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"psychology/models"
)

var (
	tenAM    = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tenFifty = tenAM.Add(50 * time.Minute)
)

func strPtr(s string) *string { return &s }

func draftFor(slotID string, start, end time.Time) models.AppointmentDraft {
	return models.AppointmentDraft{
		ServiceID:  "svc-1",
		SlotID:     slotID,
		StartAtUTC: start,
		EndAtUTC:   end,
		Timezone:   "UTC",
		Format:     models.FormatOnline,
	}
}

func newService(store *memStore, maxRetries int) *DefaultReservationService {
	return NewReservationService(store, store, store, fixedClock{now: tenAM.Add(-24 * time.Hour)}, maxRetries, nil)
}

func TestReserve(t *testing.T) {
	t.Run("Given an available slot When reserved Then a pending_payment appointment holds it", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		svc := newService(store, 2)

		appt, err := svc.Reserve(context.Background(), draftFor("S", tenAM, tenFifty))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if appt.Status != models.AppointmentPendingPayment {
			t.Errorf("expected pending_payment, got %s", appt.Status)
		}
		if appt.SlotID == nil || *appt.SlotID != "S" {
			t.Errorf("expected slot S on appointment, got %v", appt.SlotID)
		}
		if store.slotStatus("S") != models.SlotReserved {
			t.Errorf("expected slot reserved, got %s", store.slotStatus("S"))
		}
	})

	t.Run("Given no slot When reserved Then slot required conflict", func(t *testing.T) {
		svc := newService(newMemStore(), 2)
		_, err := svc.Reserve(context.Background(), draftFor("", tenAM, tenFifty))

		var conflict *BookingConflictError
		if !errors.As(err, &conflict) || conflict.Reason != ReasonSlotRequired {
			t.Fatalf("expected slot required conflict, got %v", err)
		}
	})

	t.Run("Given N parallel reservations of one slot Then exactly one succeeds", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		svc := newService(store, 2)

		const n = 16
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Reserve(context.Background(), draftFor("S", tenAM, tenFifty))
			}(i)
		}
		wg.Wait()

		successes, conflicts := 0, 0
		for _, err := range errs {
			var conflict *BookingConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict) && conflict.Reason == ReasonSlotReserved:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if successes != 1 || conflicts != n-1 {
			t.Errorf("expected 1 success and %d conflicts, got %d and %d", n-1, successes, conflicts)
		}
		if store.appointmentCount() != 1 {
			t.Errorf("expected 1 appointment, got %d", store.appointmentCount())
		}
	})

	t.Run("Given an overlapping live appointment on another slot When reserved Then time overlap and the slot stays available", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("A", tenAM, tenFifty)
		store.addSlot("B", tenAM.Add(30*time.Minute), tenFifty.Add(30*time.Minute))
		svc := newService(store, 2)

		if _, err := svc.Reserve(context.Background(), draftFor("A", tenAM, tenFifty)); err != nil {
			t.Fatalf("first reservation failed: %v", err)
		}
		_, err := svc.Reserve(context.Background(), draftFor("B", tenAM.Add(30*time.Minute), tenFifty.Add(30*time.Minute)))

		var conflict *BookingConflictError
		if !errors.As(err, &conflict) || conflict.Reason != ReasonTimeOverlap {
			t.Fatalf("expected time overlap conflict, got %v", err)
		}
		if store.slotStatus("B") != models.SlotAvailable {
			t.Errorf("expected slot B rolled back to available, got %s", store.slotStatus("B"))
		}
	})

	t.Run("Given a draft whose interval differs from its slot When reserved Then it is rejected and both slots stay bookable", func(t *testing.T) {
		store := newMemStore()
		threePM := tenAM.Add(5 * time.Hour)
		store.addSlot("S10", tenAM, tenFifty)
		store.addSlot("S15", threePM, threePM.Add(50*time.Minute))
		svc := newService(store, 2)

		_, err := svc.Reserve(context.Background(), draftFor("S10", threePM, threePM.Add(50*time.Minute)))

		var invalid *ValidationError
		if !errors.As(err, &invalid) || invalid.Field != "slotId" {
			t.Fatalf("expected slotId validation error, got %v", err)
		}
		if store.slotStatus("S10") != models.SlotAvailable || store.appointmentCount() != 0 {
			t.Fatalf("expected no side effects, S10=%s appointments=%d", store.slotStatus("S10"), store.appointmentCount())
		}
		if _, err := svc.Reserve(context.Background(), draftFor("S15", threePM, threePM.Add(50*time.Minute))); err != nil {
			t.Errorf("expected S15 to remain bookable, got %v", err)
		}
	})

	t.Run("Given a slot bound to another service When reserved Then serviceId is rejected", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		store.setSlotService("S", "svc-2")
		svc := newService(store, 2)

		_, err := svc.Reserve(context.Background(), draftFor("S", tenAM, tenFifty))

		var invalid *ValidationError
		if !errors.As(err, &invalid) || invalid.Field != "serviceId" {
			t.Fatalf("expected serviceId validation error, got %v", err)
		}
		if store.slotStatus("S") != models.SlotAvailable {
			t.Errorf("expected slot to stay available, got %s", store.slotStatus("S"))
		}
	})

	t.Run("Given an unknown slot When reserved Then slot not found conflict", func(t *testing.T) {
		svc := newService(newMemStore(), 2)

		_, err := svc.Reserve(context.Background(), draftFor("missing", tenAM, tenFifty))

		var conflict *BookingConflictError
		if !errors.As(err, &conflict) || conflict.Reason != ReasonSlotNotFound {
			t.Fatalf("expected slot not found conflict, got %v", err)
		}
	})

	t.Run("Given a resubmitted clientRequestId When reserved again Then idempotency conflict and no second row", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		svc := newService(store, 2)

		draft := draftFor("S", tenAM, tenFifty)
		draft.ClientRequestID = strPtr("req-1")

		first, err := svc.Reserve(context.Background(), draft)
		if err != nil {
			t.Fatalf("first reservation failed: %v", err)
		}
		_, err = svc.Reserve(context.Background(), draft)

		var idem *IdempotencyKeyConflictError
		if !errors.As(err, &idem) || idem.ClientRequestID != "req-1" {
			t.Fatalf("expected idempotency conflict, got %v", err)
		}
		if store.appointmentCount() != 1 {
			t.Errorf("expected 1 appointment, got %d", store.appointmentCount())
		}

		found, err := svc.FindByClientRequestID(context.Background(), "req-1")
		if err != nil || found.ID != first.ID {
			t.Errorf("expected lookup to return %s, got %v (%v)", first.ID, found, err)
		}
	})

	t.Run("Given write conflicts within budget When reserved Then it retries and succeeds", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		store.ConflictsBeforeCommit = 2
		svc := newService(store, 2)

		if _, err := svc.Reserve(context.Background(), draftFor("S", tenAM, tenFifty)); err != nil {
			t.Fatalf("expected success after retries, got %v", err)
		}
		if store.TxCallCount != 3 {
			t.Errorf("expected 3 transaction attempts, got %d", store.TxCallCount)
		}
	})

	t.Run("Given persistent write conflicts When reserved Then booking timeout and nothing persists", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		store.ConflictsBeforeCommit = 10
		svc := newService(store, 2)

		_, err := svc.Reserve(context.Background(), draftFor("S", tenAM, tenFifty))

		var timeout *BookingTimeoutError
		if !errors.As(err, &timeout) || timeout.Attempts != 3 {
			t.Fatalf("expected timeout after 3 attempts, got %v", err)
		}
		if store.slotStatus("S") != models.SlotAvailable || store.appointmentCount() != 0 {
			t.Error("expected no persistent side effects")
		}
	})

	t.Run("Given an expired context When reserved Then booking timeout", func(t *testing.T) {
		store := newMemStore()
		store.addSlot("S", tenAM, tenFifty)
		svc := newService(store, 2)

		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		_, err := svc.Reserve(ctx, draftFor("S", tenAM, tenFifty))
		var timeout *BookingTimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("expected booking timeout, got %v", err)
		}
	})
}

func TestValidateDraft(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.AppointmentDraft)
		field  string
	}{
		{"missing service", func(d *models.AppointmentDraft) { d.ServiceID = "" }, "serviceId"},
		{"end before start", func(d *models.AppointmentDraft) { d.EndAtUTC = d.StartAtUTC.Add(-time.Minute) }, "endAtUtc"},
		{"unknown timezone", func(d *models.AppointmentDraft) { d.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown format", func(d *models.AppointmentDraft) { d.Format = "phone" }, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draftFor("S", tenAM, tenFifty)
			tt.mutate(&d)
			err := validateDraft(d)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestLedgerDays(t *testing.T) {
	start := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	days := ledgerDays(start, start.Add(time.Hour))
	if len(days) != 2 || days[0] != "2026-03-02" || days[1] != "2026-03-03" {
		t.Errorf("expected two days across midnight, got %v", days)
	}
	if got := ledgerDays(tenAM, tenFifty); len(got) != 1 {
		t.Errorf("expected one day, got %v", got)
	}
}
