package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"psychology/database"
	integrationRepo "psychology/database/repository/integration"
	"psychology/models"
	"psychology/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	AlertKeySync     = "calendar.sync"
	AlertKeyBackfill = "calendar.backfill"
)

// blockedSlotNamespace seeds deterministic ids for mirrored busy blocks.
var blockedSlotNamespace = uuid.MustParse("6f1c7f8e-3c1b-4e57-9a53-2f0d8a1c9b42")

type CreateOutcome string

const (
	OutcomeCreated      CreateOutcome = "created"
	OutcomeSkipped      CreateOutcome = "skipped"
	OutcomeOrphaned     CreateOutcome = "orphaned"
	OutcomeAlreadyFixed CreateOutcome = "already_fixed"
)

// SyncResult reports one busy-time sync. Err is set when OK is false.
type SyncResult struct {
	OK      bool
	From    time.Time
	To      time.Time
	Busy    int
	Skipped int
	Deleted int64
	Created int
	Err     error
}

// TickResult reports one scheduler tick.
type TickResult struct {
	Sync       SyncResult
	Backfilled int
	Failed     int
}

type ReconcilerConfig struct {
	Lookahead     time.Duration
	BackfillBatch int
}

// Reconciler keeps appointments and the external calendar in step.
type Reconciler struct {
	appointments AppointmentStore
	slots        SlotStore
	integrations IntegrationStore
	clients      ClientFactory
	tx           database.TxRunner
	caller       *utils.RetryingCaller
	alerts       Alerter
	clock        utils.Clock
	logger       *zap.Logger
	cfg          ReconcilerConfig
}

func NewReconciler(
	appointments AppointmentStore,
	slots SlotStore,
	integrations IntegrationStore,
	clients ClientFactory,
	tx database.TxRunner,
	caller *utils.RetryingCaller,
	alerts Alerter,
	clock utils.Clock,
	logger *zap.Logger,
	cfg ReconcilerConfig,
) *Reconciler {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		appointments: appointments,
		slots:        slots,
		integrations: integrations,
		clients:      clients,
		tx:           tx,
		caller:       caller,
		alerts:       alerts,
		clock:        clock,
		logger:       logger,
		cfg:          cfg,
	}
}

// CreateEventFor creates the external event of a confirmed appointment and
// stores its id only if none is stored yet. Losing that race leaves the new
// remote event orphaned; it is logged, not deleted.
func (r *Reconciler) CreateEventFor(ctx context.Context, appointmentID string) (CreateOutcome, error) {
	appt, err := r.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return "", fmt.Errorf("load appointment %s: %w", appointmentID, err)
	}
	if appt.Status != models.AppointmentConfirmed || appt.ExternalCalendarEventID != nil {
		return OutcomeSkipped, nil
	}

	eventID, err := r.createRemoteEvent(ctx, appt)
	if err != nil {
		return "", err
	}

	stored, err := r.appointments.SetCalendarEventIDIfAbsent(ctx, appt.ID, eventID, r.clock.Now())
	if err != nil {
		return "", fmt.Errorf("store calendar event id: %w", err)
	}
	if !stored {
		r.logger.Warn("Calendar event id already set by a concurrent writer, remote event orphaned",
			zap.String("appointmentId", appt.ID),
			zap.String("orphanedEventId", eventID),
		)
		return OutcomeOrphaned, nil
	}

	r.logger.Info("Calendar event created", zap.String("appointmentId", appt.ID), zap.String("eventId", eventID))
	return OutcomeCreated, nil
}

// ReplaceEventFor recreates the remote event of an appointment whose stored
// event id is known to be stale, swapping it only if it still equals staleEventID.
func (r *Reconciler) ReplaceEventFor(ctx context.Context, appointmentID, staleEventID string) (CreateOutcome, error) {
	appt, err := r.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return "", fmt.Errorf("load appointment %s: %w", appointmentID, err)
	}
	if appt.ExternalCalendarEventID == nil || *appt.ExternalCalendarEventID != staleEventID {
		return OutcomeAlreadyFixed, nil
	}

	eventID, err := r.createRemoteEvent(ctx, appt)
	if err != nil {
		return "", err
	}
	swapped, err := r.appointments.ReplaceCalendarEventID(ctx, appt.ID, staleEventID, eventID, r.clock.Now())
	if err != nil {
		return "", fmt.Errorf("replace calendar event id: %w", err)
	}
	if !swapped {
		r.logger.Warn("Stale calendar event id already replaced, remote event orphaned",
			zap.String("appointmentId", appt.ID),
			zap.String("orphanedEventId", eventID),
		)
		return OutcomeOrphaned, nil
	}
	return OutcomeCreated, nil
}

func (r *Reconciler) createRemoteEvent(ctx context.Context, appt *models.Appointment) (string, error) {
	integration, api, err := r.connectedClient(ctx)
	if err != nil {
		return "", err
	}

	tz := appt.Timezone
	if tz == "" {
		tz = integration.Timezone
	}
	input := EventInput{
		Summary:     fmt.Sprintf("Consultation (%s)", appt.Format),
		Description: fmt.Sprintf("Appointment %s", appt.ID),
		Start:       appt.StartAtUTC,
		End:         appt.EndAtUTC,
		TimeZone:    tz,
	}

	var eventID string
	err = r.caller.Do(ctx, func(ctx context.Context) error {
		id, err := api.CreateEvent(ctx, integration.CalendarID, input)
		if err != nil {
			return err
		}
		eventID = id
		return nil
	}, IsRetryable)
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	return eventID, nil
}

// connectedClient loads the integration, discovering its primary calendar when unset.
func (r *Reconciler) connectedClient(ctx context.Context) (*models.GoogleCalendarIntegration, CalendarAPI, error) {
	integration, err := r.integrations.GetPrimary(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrNotConnected
	}
	if err != nil {
		return nil, nil, err
	}
	if integration.Status != models.IntegrationConnected {
		return nil, nil, ErrNotConnected
	}

	api, err := r.clients.ForIntegration(ctx, integration)
	if err != nil {
		return nil, nil, err
	}

	if integration.CalendarID == "" {
		var calendarID, timezone string
		err := r.caller.Do(ctx, func(ctx context.Context) error {
			var err error
			calendarID, timezone, err = api.PrimaryCalendar(ctx)
			return err
		}, IsRetryable)
		if err != nil {
			return nil, nil, fmt.Errorf("discover primary calendar: %w", err)
		}
		if err := r.integrations.SetCalendar(ctx, calendarID, timezone, r.clock.Now()); err != nil {
			return nil, nil, err
		}
		integration.CalendarID, integration.Timezone = calendarID, timezone
	}
	return integration, api, nil
}

// SyncBusyTimes mirrors the calendar's busy intervals in [from, to) as
// external blocked slots, replacing the previous set for the window. Busy
// intervals matching a confirmed appointment exactly are the system's own
// events and are skipped. It never panics; failures come back in the result.
func (r *Reconciler) SyncBusyTimes(ctx context.Context, from, to time.Time) (result SyncResult) {
	result = SyncResult{From: from, To: to}
	defer func() {
		if p := recover(); p != nil {
			result.OK = false
			result.Err = fmt.Errorf("busy sync panicked: %v", p)
		}
		r.recordSync(ctx, result)
	}()

	integration, api, err := r.connectedClient(ctx)
	if err != nil {
		result.Err = err
		return result
	}

	var busy []models.BusyInterval
	err = r.caller.Do(ctx, func(ctx context.Context) error {
		var err error
		busy, err = api.FreeBusy(ctx, integration.CalendarID, from, to)
		return err
	}, IsRetryable)
	if err != nil {
		result.Err = fmt.Errorf("free/busy query: %w", err)
		return result
	}
	result.Busy = len(busy)

	own, err := r.appointments.ListConfirmedInWindow(ctx, from, to)
	if err != nil {
		result.Err = err
		return result
	}
	ownIntervals := make(map[[2]int64]bool, len(own))
	for _, appt := range own {
		ownIntervals[[2]int64{appt.StartAtUTC.Unix(), appt.EndAtUTC.Unix()}] = true
	}

	now := r.clock.Now()
	blocked := make([]models.AvailabilitySlot, 0, len(busy))
	for _, b := range busy {
		if ownIntervals[[2]int64{b.Start.Unix(), b.End.Unix()}] {
			result.Skipped++
			continue
		}
		blocked = append(blocked, models.AvailabilitySlot{
			ID:         blockedSlotID(integration.CalendarID, b),
			StartAtUTC: b.Start,
			EndAtUTC:   b.End,
			Status:     models.SlotBlocked,
			Source:     models.SlotSourceExternal,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err = r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		deleted, err := r.slots.DeleteExternalBlocked(txCtx, from, to)
		if err != nil {
			return err
		}
		result.Deleted = deleted
		return r.slots.CreateMany(txCtx, blocked)
	})
	if err != nil {
		result.Err = fmt.Errorf("replace blocked slots: %w", err)
		return result
	}

	result.Created = len(blocked)
	result.OK = true
	return result
}

func (r *Reconciler) recordSync(ctx context.Context, result SyncResult) {
	record := integrationRepo.SyncRecord{From: result.From, To: result.To, At: r.clock.Now()}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}
	if errors.Is(result.Err, ErrNotConnected) {
		return
	}
	if err := r.integrations.RecordSync(ctx, record); err != nil {
		r.logger.Warn("Failed to record calendar sync", zap.Error(err))
	}
}

func blockedSlotID(calendarID string, b models.BusyInterval) string {
	name := fmt.Sprintf("%s|%d|%d", calendarID, b.Start.Unix(), b.End.Unix())
	return uuid.NewSHA1(blockedSlotNamespace, []byte(name)).String()
}

// RunSyncTick syncs the lookahead window and, only when that succeeded,
// backfills events for confirmed appointments missing one. Each failure is
// alerted; a failing appointment does not stop the rest of the batch. A
// calendar that is not connected is an expected state and is not alerted.
func (r *Reconciler) RunSyncTick(ctx context.Context) TickResult {
	from := r.clock.Now()
	to := from.Add(r.cfg.Lookahead)

	tick := TickResult{Sync: r.SyncBusyTimes(ctx, from, to)}
	if errors.Is(tick.Sync.Err, ErrNotConnected) {
		r.logger.Debug("Calendar not connected, sync skipped")
		return tick
	}
	if !tick.Sync.OK {
		r.alerts.Raise(ctx, AlertKeySync, "Calendar busy-time sync failed", tick.Sync.Err)
		return tick
	}
	r.logger.Debug("Calendar busy-time sync done",
		zap.Int("busy", tick.Sync.Busy),
		zap.Int("created", tick.Sync.Created),
		zap.Int64("deleted", tick.Sync.Deleted),
		zap.Int("skipped", tick.Sync.Skipped),
	)

	missing, err := r.appointments.ListConfirmedMissingEvent(ctx, from, to, r.cfg.BackfillBatch)
	if err != nil {
		r.alerts.Raise(ctx, AlertKeyBackfill, "Calendar backfill query failed", err)
		return tick
	}

	for _, appt := range missing {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.CreateEventFor(ctx, appt.ID); err != nil {
			tick.Failed++
			r.logger.Warn("Calendar backfill failed", zap.String("appointmentId", appt.ID), zap.Error(err))
			r.alerts.Raise(ctx, AlertKeyBackfill, "Calendar event backfill failed for "+appt.ID, err)
			continue
		}
		tick.Backfilled++
	}
	return tick
}

// Run adapts RunSyncTick to the scheduler's job signature.
func (r *Reconciler) Run(ctx context.Context) {
	r.RunSyncTick(ctx)
}

// InlineFollowUp creates the calendar event right away when an appointment is confirmed.
type InlineFollowUp struct {
	Reconciler *Reconciler
}

func (f InlineFollowUp) AppointmentConfirmed(ctx context.Context, appointmentID string) error {
	_, err := f.Reconciler.CreateEventFor(ctx, appointmentID)
	return err
}
