package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"psychology/models"
	"psychology/utils"
)

// yooKassaNotification is the webhook body: an event name, its id and the
// payment object it is about.
type yooKassaNotification struct {
	Type   string         `json:"type"`
	Event  string         `json:"event"`
	ID     string         `json:"id"`
	Object yooKassaObject `json:"object"`
}

type yooKassaObject struct {
	ID                  string          `json:"id"`
	Status              string          `json:"status"`
	Amount              yooKassaAmount  `json:"amount"`
	Description         string          `json:"description,omitempty"`
	Confirmation        *yooKassaRedir  `json:"confirmation,omitempty"`
	CancellationDetails *yooKassaCancel `json:"cancellation_details,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
}

type yooKassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooKassaRedir struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yooKassaCancel struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

// YooKassaEventID returns the delivery id of a notification. Notifications
// without one are keyed by event name and payment id, which is stable across
// redeliveries of the same event.
func YooKassaEventID(payload []byte) (string, error) {
	var n yooKassaNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return "", err
	}
	if n.ID != "" {
		return n.ID, nil
	}
	if n.Event == "" || n.Object.ID == "" {
		return "", errors.New("notification has neither id nor event and payment id")
	}
	return n.Event + ":" + n.Object.ID, nil
}

type YooKassaDecoder struct{}

func (YooKassaDecoder) Decode(payload []byte) (*models.PaymentEvent, error) {
	var n yooKassaNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.Event == "" {
		return nil, errors.New("notification has no event")
	}
	event := &models.PaymentEvent{
		Type:              n.Event,
		ProviderPaymentID: n.Object.ID,
		Status:            n.Object.Status,
		Amount:            n.Object.Amount.Value,
		Currency:          n.Object.Amount.Currency,
	}
	if n.Object.CancellationDetails != nil {
		event.CancelReason = n.Object.CancellationDetails.Reason
	}
	return event, nil
}

// YooKassaGateway creates redirect payments through the YooKassa REST API.
type YooKassaGateway struct {
	apiURL    string
	shopID    string
	secretKey string
	client    *http.Client
	caller    *utils.RetryingCaller
}

func NewYooKassaGateway(apiURL, shopID, secretKey string, timeout time.Duration, caller *utils.RetryingCaller) *YooKassaGateway {
	return &YooKassaGateway{
		apiURL:    strings.TrimRight(apiURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
		caller:    caller,
	}
}

func (g *YooKassaGateway) Provider() string { return models.ProviderYooKassa }

type yooKassaCreateRequest struct {
	Amount       yooKassaAmount    `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation yooKassaRedir     `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

// CreatePayment is safe to retry because YooKassa deduplicates on the
// Idempotence-Key header.
func (g *YooKassaGateway) CreatePayment(ctx context.Context, req CreateRequest) (*CreatedPayment, error) {
	body := yooKassaCreateRequest{
		Amount:       yooKassaAmount{Value: req.Amount.StringFixed(2), Currency: strings.ToUpper(req.Currency)},
		Capture:      true,
		Confirmation: yooKassaRedir{Type: "redirect", ReturnURL: req.ReturnURL},
		Description:  req.Description,
		Metadata:     map[string]string{"appointmentId": req.AppointmentID},
	}

	var created yooKassaObject
	err := g.caller.Do(ctx, func(ctx context.Context) error {
		return utils.DoJSON(ctx, g.client, utils.JSONRequest{
			Method:   http.MethodPost,
			URL:      g.apiURL + "/payments",
			Body:     body,
			Headers:  map[string]string{"Idempotence-Key": req.IdempotencyKey},
			User:     g.shopID,
			Password: g.secretKey,
		}, &created)
	}, utils.IsRetryableHTTP)
	if err != nil {
		return nil, fmt.Errorf("create yookassa payment: %w", err)
	}

	result := &CreatedPayment{
		ProviderPaymentID: created.ID,
		Status:            yooKassaStatus(created.Status),
	}
	if created.Confirmation != nil {
		result.ConfirmationURL = created.Confirmation.ConfirmationURL
	}
	return result, nil
}

// GetPayment reads the payment back from the API. Notifications carry no
// signature, so this is what webhook processing trusts.
func (g *YooKassaGateway) GetPayment(ctx context.Context, providerPaymentID string) (*ProviderPayment, error) {
	var fetched yooKassaObject
	err := g.caller.Do(ctx, func(ctx context.Context) error {
		return utils.DoJSON(ctx, g.client, utils.JSONRequest{
			Method:   http.MethodGet,
			URL:      g.apiURL + "/payments/" + url.PathEscape(providerPaymentID),
			User:     g.shopID,
			Password: g.secretKey,
		}, &fetched)
	}, utils.IsRetryableHTTP)
	if err != nil {
		return nil, fmt.Errorf("get yookassa payment %s: %w", providerPaymentID, err)
	}
	return &ProviderPayment{
		ID:       fetched.ID,
		Status:   yooKassaStatus(fetched.Status),
		Amount:   fetched.Amount.Value,
		Currency: fetched.Amount.Currency,
	}, nil
}

func yooKassaStatus(s string) models.PaymentStatus {
	switch s {
	case "succeeded":
		return models.PaymentSucceeded
	case "canceled":
		return models.PaymentCanceled
	default:
		return models.PaymentPending
	}
}
