package database

import "errors"

// Repository sentinels. Callers match them with errors.Is.
var (
	ErrNotFound               = errors.New("document not found")
	ErrDuplicateClientRequest = errors.New("appointment already exists for client request id")
	ErrDuplicatePayment       = errors.New("payment already exists")
	ErrDuplicateWebhookEvent  = errors.New("webhook event already recorded")
)
