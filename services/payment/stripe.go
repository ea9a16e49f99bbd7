package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"psychology/models"
	"psychology/utils"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeIntentSucceeded = "payment_intent.succeeded"
	stripeIntentCanceled  = "payment_intent.canceled"
	stripeIntentFailed    = "payment_intent.payment_failed"
)

// zeroDecimalCurrencies are charged in whole units by Stripe.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func minorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// StripeVerifier checks the Stripe-Signature header of a webhook body.
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) StripeVerifier {
	return StripeVerifier{secret: secret}
}

// Verify returns the event id of a correctly signed payload.
func (v StripeVerifier) Verify(payload []byte, signature string) (string, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", err
	}
	return event.ID, nil
}

type StripeDecoder struct{}

func (StripeDecoder) Decode(payload []byte) (*models.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	if event.Type == "" {
		return nil, errors.New("stripe event has no type")
	}

	var kind string
	switch string(event.Type) {
	case stripeIntentSucceeded:
		kind = models.EventPaymentSucceeded
	case stripeIntentCanceled:
		kind = models.EventPaymentCanceled
	case stripeIntentFailed:
		kind = models.EventPaymentFailed
	default:
		return &models.PaymentEvent{Type: string(event.Type)}, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("stripe event has no data object")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	currency := string(intent.Currency)
	out := &models.PaymentEvent{
		Type:              kind,
		ProviderPaymentID: intent.ID,
		Status:            string(intent.Status),
		Amount:            decimal.New(intent.Amount, -minorUnitExponent(currency)).String(),
		Currency:          strings.ToUpper(currency),
		CancelReason:      string(intent.CancellationReason),
	}
	if kind == models.EventPaymentFailed && intent.LastPaymentError != nil {
		out.CancelReason = string(intent.LastPaymentError.Code)
	}
	return out, nil
}

// StripeGateway creates PaymentIntents. The package-level stripe.Key must be set.
type StripeGateway struct {
	caller *utils.RetryingCaller
}

func NewStripeGateway(caller *utils.RetryingCaller) *StripeGateway {
	return &StripeGateway{caller: caller}
}

func (g *StripeGateway) Provider() string { return models.ProviderStripe }

func (g *StripeGateway) CreatePayment(ctx context.Context, req CreateRequest) (*CreatedPayment, error) {
	amount := req.Amount.Shift(minorUnitExponent(req.Currency))
	if !amount.Equal(amount.Truncate(0)) {
		return nil, &ValidationError{Field: "amount", Message: "more precision than the currency allows"}
	}

	var intent *stripe.PaymentIntent
	err := g.caller.Do(ctx, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:      stripe.Int64(amount.IntPart()),
			Currency:    stripe.String(strings.ToLower(req.Currency)),
			Description: stripe.String(req.Description),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.IdempotencyKey)
		params.AddMetadata("appointmentId", req.AppointmentID)

		var err error
		intent, err = paymentintent.New(params)
		return err
	}, isRetryableStripe)
	if err != nil {
		return nil, fmt.Errorf("create stripe payment intent: %w", err)
	}

	status := models.PaymentPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = models.PaymentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = models.PaymentCanceled
	}
	return &CreatedPayment{
		ProviderPaymentID: intent.ID,
		Status:            status,
		ClientSecret:      intent.ClientSecret,
	}, nil
}

func isRetryableStripe(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return utils.IsRetryableStatus(stripeErr.HTTPStatusCode)
	}
	return utils.IsRetryableHTTP(err)
}
