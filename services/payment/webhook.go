package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"psychology/database"
	paymentRepo "psychology/database/repository/payment"
	"psychology/models"
	"psychology/mq"
	"psychology/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const AlertKeyMalformedWebhook = "payment.webhook.malformed"

// WebhookProcessor applies provider payment webhooks. Every mutation is a
// conditional update, so replays and concurrent duplicate deliveries converge
// on the same state.
type WebhookProcessor struct {
	events       WebhookEventStore
	payments     PaymentStore
	appointments AppointmentStore
	slots        SlotStore
	tx           database.TxRunner
	followUp     FollowUp
	publisher    mq.Publisher
	alerts       Alerter
	clock        utils.Clock
	logger       *zap.Logger
	decoders     map[string]Decoder
	lookups      map[string]PaymentLookup
}

func NewWebhookProcessor(
	events WebhookEventStore,
	payments PaymentStore,
	appointments AppointmentStore,
	slots SlotStore,
	tx database.TxRunner,
	followUp FollowUp,
	publisher mq.Publisher,
	alerts Alerter,
	clock utils.Clock,
	logger *zap.Logger,
) *WebhookProcessor {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = mq.LogPublisher{Logger: logger}
	}
	return &WebhookProcessor{
		events:       events,
		payments:     payments,
		appointments: appointments,
		slots:        slots,
		tx:           tx,
		followUp:     followUp,
		publisher:    publisher,
		alerts:       alerts,
		clock:        clock,
		logger:       logger,
		decoders:     make(map[string]Decoder),
		lookups:      make(map[string]PaymentLookup),
	}
}

// RegisterDecoder sets the payload decoder used for provider.
func (p *WebhookProcessor) RegisterDecoder(provider string, d Decoder) {
	p.decoders[provider] = d
}

// RegisterLookup makes webhooks from provider trust only the payment state
// read back from the provider API, never the notification body.
func (p *WebhookProcessor) RegisterLookup(provider string, l PaymentLookup) {
	p.lookups[provider] = l
}

// Handle records and applies one webhook delivery. A delivery already marked
// processed is a no-op. A delivery recorded but never processed is applied
// again. Malformed payloads come back as *MalformedWebhookError; any other
// error is transient and the provider should redeliver.
func (p *WebhookProcessor) Handle(ctx context.Context, provider, providerEventID string, payload []byte) error {
	if providerEventID == "" {
		return p.malformed(ctx, provider, providerEventID, "missing event id", nil, false)
	}

	decoder, ok := p.decoders[provider]
	if !ok {
		return p.malformed(ctx, provider, providerEventID, "unsupported provider", ErrUnknownProvider, false)
	}
	event, decodeErr := decoder.Decode(payload)

	record := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: providerEventID,
		ReceivedAt:      p.clock.Now(),
	}
	if event != nil {
		record.EventType = event.Type
	}
	stored, fresh, err := p.events.RecordReceived(ctx, record)
	if err != nil {
		return err
	}
	if !fresh && stored.ProcessedAt != nil {
		p.logger.Debug("Duplicate webhook ignored", zap.String("provider", provider), zap.String("eventId", providerEventID))
		return nil
	}
	if !fresh {
		p.logger.Info("Re-processing unfinished webhook", zap.String("provider", provider), zap.String("eventId", providerEventID))
	}

	if decodeErr != nil {
		return p.malformed(ctx, provider, providerEventID, "undecodable payload", decodeErr, true)
	}

	if err := p.apply(ctx, provider, providerEventID, event); err != nil {
		var malformed *MalformedWebhookError
		if errors.As(err, &malformed) {
			return p.malformed(ctx, provider, providerEventID, malformed.Reason, malformed.Err, true)
		}
		if recErr := p.events.RecordError(ctx, provider, providerEventID, err.Error()); recErr != nil {
			p.logger.Warn("Failed to record webhook error", zap.Error(recErr))
		}
		return err
	}

	return p.events.MarkProcessed(ctx, provider, providerEventID, p.clock.Now())
}

func (p *WebhookProcessor) apply(ctx context.Context, provider, providerEventID string, event *models.PaymentEvent) error {
	switch event.Type {
	case models.EventPaymentSucceeded:
		return p.applySucceeded(ctx, provider, event)
	case models.EventPaymentCanceled:
		return p.applyCanceled(ctx, provider, event)
	default:
		p.logger.Info("Webhook event type acknowledged without action",
			zap.String("provider", provider),
			zap.String("eventId", providerEventID),
			zap.String("type", event.Type),
		)
		return nil
	}
}

func (p *WebhookProcessor) loadPayment(ctx context.Context, provider string, event *models.PaymentEvent, want models.PaymentStatus) (*models.Payment, error) {
	if event.ProviderPaymentID == "" {
		return nil, &MalformedWebhookError{Reason: "missing payment id"}
	}
	payment, err := p.payments.GetByProviderPaymentID(ctx, provider, event.ProviderPaymentID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &MalformedWebhookError{Reason: "unknown payment " + event.ProviderPaymentID, Err: err}
	}
	if err != nil {
		return nil, err
	}

	if lookup, ok := p.lookups[provider]; ok {
		remote, err := lookup.GetPayment(ctx, event.ProviderPaymentID)
		var statusErr *utils.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, &MalformedWebhookError{Reason: "payment unknown to provider " + event.ProviderPaymentID, Err: err}
		}
		if err != nil {
			return nil, fmt.Errorf("verify payment %s with provider: %w", event.ProviderPaymentID, err)
		}
		if remote.Status != want {
			return nil, &MalformedWebhookError{Reason: fmt.Sprintf("provider reports payment %s as %s", event.ProviderPaymentID, remote.Status)}
		}
		event.Status = string(remote.Status)
		event.Amount = remote.Amount
		event.Currency = remote.Currency
	} else if event.Status != "" && event.Status != string(want) {
		return nil, &MalformedWebhookError{Reason: fmt.Sprintf("payment status %q contradicts %s", event.Status, event.Type)}
	}

	if want == models.PaymentSucceeded && event.Amount == "" {
		return nil, &MalformedWebhookError{Reason: "missing amount"}
	}
	if err := matchAmount(payment, event); err != nil {
		return nil, &MalformedWebhookError{Reason: "amount mismatch", Err: err}
	}
	return payment, nil
}

// matchAmount compares the confirmed amount with the stored one. Cancel
// notifications may omit it.
func matchAmount(payment *models.Payment, event *models.PaymentEvent) error {
	if event.Amount == "" {
		return nil
	}
	got, err := decimal.NewFromString(event.Amount)
	if err != nil {
		return fmt.Errorf("amount %q: %w", event.Amount, err)
	}
	want, err := decimal.NewFromString(payment.Amount)
	if err != nil {
		return fmt.Errorf("stored amount %q: %w", payment.Amount, err)
	}
	if !got.Equal(want) {
		return fmt.Errorf("got %s, stored %s", got, want)
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, payment.Currency) {
		return fmt.Errorf("got currency %s, stored %s", event.Currency, payment.Currency)
	}
	return nil
}

func (p *WebhookProcessor) applySucceeded(ctx context.Context, provider string, event *models.PaymentEvent) error {
	payment, err := p.loadPayment(ctx, provider, event, models.PaymentSucceeded)
	if err != nil {
		return err
	}

	switch payment.Status {
	case models.PaymentSucceeded:
	case models.PaymentPending:
		now := p.clock.Now()
		moved, err := p.payments.TransitionIfStatus(ctx, payment.ID, models.PaymentPending, paymentRepo.StatusChange{
			To:          models.PaymentSucceeded,
			ConfirmedAt: &now,
		})
		if err != nil {
			return fmt.Errorf("mark payment %s succeeded: %w", payment.ID, err)
		}
		if moved {
			p.logger.Info("Payment succeeded", zap.String("paymentId", payment.ID), zap.String("appointmentId", payment.AppointmentID))
		}
	default:
		p.logger.Warn("Success webhook for a payment already in a final state",
			zap.String("paymentId", payment.ID),
			zap.String("status", string(payment.Status)),
		)
		return nil
	}

	// The appointment steps run on every delivery so that a crash between
	// the payment and appointment updates converges on redelivery.
	now := p.clock.Now()
	if _, err := p.appointments.TransitionStatusIf(ctx, payment.AppointmentID, models.AppointmentPendingPayment, models.AppointmentPaid, now); err != nil {
		return fmt.Errorf("mark appointment %s paid: %w", payment.AppointmentID, err)
	}
	confirmed, err := p.appointments.TransitionStatusIf(ctx, payment.AppointmentID, models.AppointmentPaid, models.AppointmentConfirmed, now)
	if err != nil {
		return fmt.Errorf("confirm appointment %s: %w", payment.AppointmentID, err)
	}
	if !confirmed {
		return nil
	}

	p.logger.Info("Appointment confirmed", zap.String("appointmentId", payment.AppointmentID))
	p.publish(ctx, models.DomainEvent{
		Type:          models.DomainEventAppointmentConfirmed,
		AppointmentID: payment.AppointmentID,
		PaymentID:     payment.ID,
		OccurredAt:    now,
	})
	if p.followUp != nil {
		if err := p.followUp.AppointmentConfirmed(ctx, payment.AppointmentID); err != nil {
			p.logger.Warn("Calendar follow-up failed, left to backfill",
				zap.String("appointmentId", payment.AppointmentID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (p *WebhookProcessor) applyCanceled(ctx context.Context, provider string, event *models.PaymentEvent) error {
	payment, err := p.loadPayment(ctx, provider, event, models.PaymentCanceled)
	if err != nil {
		return err
	}
	if payment.Status == models.PaymentSucceeded {
		p.logger.Warn("Cancel webhook for a succeeded payment ignored", zap.String("paymentId", payment.ID))
		return nil
	}

	var category *string
	if event.CancelReason != "" {
		category = &event.CancelReason
	}
	now := p.clock.Now()
	if _, err := p.payments.TransitionIfStatus(ctx, payment.ID, models.PaymentPending, paymentRepo.StatusChange{
		To:              models.PaymentCanceled,
		FailureCategory: category,
	}); err != nil {
		return fmt.Errorf("mark payment %s canceled: %w", payment.ID, err)
	}

	var canceled bool
	err = p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		appt, err := p.appointments.GetByID(txCtx, payment.AppointmentID)
		if err != nil {
			return err
		}
		canceled, err = p.appointments.TransitionStatusIf(txCtx, appt.ID, models.AppointmentPendingPayment, models.AppointmentCanceled, now)
		if err != nil || !canceled || appt.SlotID == nil {
			return err
		}
		_, err = p.slots.ReleaseSlot(txCtx, *appt.SlotID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel appointment %s: %w", payment.AppointmentID, err)
	}

	if canceled {
		p.logger.Info("Appointment canceled after payment cancellation",
			zap.String("appointmentId", payment.AppointmentID),
			zap.String("reason", event.CancelReason),
		)
		p.publish(ctx, models.DomainEvent{
			Type:          models.DomainEventPaymentCanceled,
			AppointmentID: payment.AppointmentID,
			PaymentID:     payment.ID,
			OccurredAt:    now,
		})
	}
	return nil
}

func (p *WebhookProcessor) publish(ctx context.Context, event models.DomainEvent) {
	if err := p.publisher.PublishJSON(ctx, event.Type, event); err != nil {
		p.logger.Warn("Failed to publish domain event", zap.String("type", event.Type), zap.Error(err))
	}
}

func (p *WebhookProcessor) malformed(ctx context.Context, provider, providerEventID, reason string, cause error, recorded bool) error {
	err := &MalformedWebhookError{
		Provider:        provider,
		ProviderEventID: providerEventID,
		Reason:          reason,
		Err:             cause,
	}
	p.logger.Warn("Malformed payment webhook", zap.String("provider", provider), zap.String("eventId", providerEventID), zap.Error(err))
	if recorded {
		if recErr := p.events.RecordError(ctx, provider, providerEventID, err.Error()); recErr != nil {
			p.logger.Warn("Failed to record webhook error", zap.Error(recErr))
		}
	}
	if p.alerts != nil {
		p.alerts.Raise(ctx, AlertKeyMalformedWebhook, "Malformed "+provider+" payment webhook", err)
	}
	return err
}
