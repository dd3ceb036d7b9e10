package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookStatus represents the outcome of one delivery attempt.
type WebhookStatus string

const (
	WebhookStatusDelivered WebhookStatus = "DELIVERED"
	WebhookStatusFailed    WebhookStatus = "FAILED"
)

// WebhookEventTransferReceived is the event name sent to payees.
const WebhookEventTransferReceived = "transfer_received"

// TransferNotification is handed to the notifier after a transfer commits.
type TransferNotification struct {
	TransferID  uuid.UUID `json:"transfer_id"`
	PayerUserID uuid.UUID `json:"payer_user_id"`
	PayeeUserID uuid.UUID `json:"payee_user_id"`
	Amount      int64     `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// WebhookDelivery records each webhook delivery attempt.
type WebhookDelivery struct {
	ID         uuid.UUID     `json:"id"`
	TransferID uuid.UUID     `json:"transfer_id"`
	UserID     uuid.UUID     `json:"user_id"`
	WebhookURL string        `json:"webhook_url"`
	Payload    string        `json:"payload"`
	HTTPStatus *int          `json:"http_status"`
	Attempt    int           `json:"attempt"`
	Status     WebhookStatus `json:"status"`
	LastError  *string       `json:"last_error"`
	CreatedAt  time.Time     `json:"created_at"`
}
