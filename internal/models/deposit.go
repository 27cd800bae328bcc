package models

import (
	"time"
)

// Deposit represents a locally tracked PIX funding request and its
// lifecycle status. Rows are created by the billing-creation flow in a
// pending state and mutated only by inbound webhook notifications.
type Deposit struct {
	ID            int64     `json:"id,omitempty" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	ExternalID    string    `json:"external_id" db:"external_id"`
	AmountCents   int64     `json:"amount_cents" db:"amount_cents"`
	Status        string    `json:"status" db:"status"`
	PaymentURL    string    `json:"payment_url" db:"payment_url"`
	Provider      string    `json:"provider" db:"provider"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// WebhookEvent is a dedup/audit record of a gateway notification. One row
// exists per gateway event id; a replayed delivery only refreshes
// ReceivedAt.
type WebhookEvent struct {
	ID          int64     `json:"id,omitempty" db:"id"`
	EventID     string    `json:"event_id" db:"event_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	ReceivedAt  time.Time `json:"received_at" db:"received_at"`
	PayloadText string    `json:"payload_text" db:"payload_text"`
}
