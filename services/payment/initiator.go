package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"psychology/database"
	"psychology/models"
	"psychology/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InitiateRequest struct {
	AppointmentID  string `json:"appointmentId" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Initiator opens a provider payment for an appointment awaiting payment.
type Initiator struct {
	gateway      Gateway
	payments     PaymentStore
	appointments AppointmentStore
	returnURL    string
	clock        utils.Clock
	logger       *zap.Logger
}

func NewInitiator(gateway Gateway, payments PaymentStore, appointments AppointmentStore, returnURL string, clock utils.Clock, logger *zap.Logger) *Initiator {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initiator{
		gateway:      gateway,
		payments:     payments,
		appointments: appointments,
		returnURL:    returnURL,
		clock:        clock,
		logger:       logger,
	}
}

// Initiate creates the provider payment and stores it as pending. Repeating
// a request with the same idempotency key returns the stored payment.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (*models.Payment, error) {
	amount, currency, err := validateInitiate(req)
	if err != nil {
		return nil, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	existing, err := i.payments.GetByIdempotencyKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	appt, err := i.appointments.GetByID(ctx, req.AppointmentID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if appt.Status != models.AppointmentPendingPayment {
		return nil, fmt.Errorf("%w: status %s", ErrNotPayable, appt.Status)
	}

	created, err := i.gateway.CreatePayment(ctx, CreateRequest{
		AppointmentID:  appt.ID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
		Description:    fmt.Sprintf("Consultation %s", appt.StartAtUTC.Format("2006-01-02 15:04 MST")),
		ReturnURL:      i.returnURL,
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:                uuid.New().String(),
		AppointmentID:     appt.ID,
		Provider:          i.gateway.Provider(),
		ProviderPaymentID: created.ProviderPaymentID,
		Amount:            amount.StringFixed(2),
		Currency:          currency,
		Status:            models.PaymentPending,
		IdempotencyKey:    &key,
		ConfirmationURL:   created.ConfirmationURL,
		CreatedAt:         i.clock.Now(),
	}
	if err := i.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, database.ErrDuplicatePayment) {
			return i.payments.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}
	payment.ClientSecret = created.ClientSecret

	i.logger.Info("Payment initiated",
		zap.String("paymentId", payment.ID),
		zap.String("provider", payment.Provider),
		zap.String("providerPaymentId", payment.ProviderPaymentID),
		zap.String("providerStatus", string(created.Status)),
	)
	return payment, nil
}

func validateInitiate(req InitiateRequest) (decimal.Decimal, string, error) {
	if req.AppointmentID == "" {
		return decimal.Zero, "", &ValidationError{Field: "appointmentId", Message: "required"}
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return decimal.Zero, "", &ValidationError{Field: "amount", Message: "not a decimal number"}
	}
	if !amount.IsPositive() {
		return decimal.Zero, "", &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, "", &ValidationError{Field: "amount", Message: "at most two decimal places"}
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return decimal.Zero, "", &ValidationError{Field: "currency", Message: "must be an ISO 4217 code"}
	}
	return amount, currency, nil
}
