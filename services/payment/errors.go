package payment

import (
	"errors"
	"fmt"
)

// MalformedWebhookError is a client-side webhook failure: the payload cannot
// be decoded or does not match a known payment. It is acknowledged to the
// provider, never retried.
type MalformedWebhookError struct {
	Provider        string
	ProviderEventID string
	Reason          string
	Err             error
}

func (e *MalformedWebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s webhook %s: %s: %v", e.Provider, e.ProviderEventID, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s webhook %s: %s", e.Provider, e.ProviderEventID, e.Reason)
}

func (e *MalformedWebhookError) Unwrap() error { return e.Err }

var (
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotPayable          = errors.New("appointment is not awaiting payment")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
