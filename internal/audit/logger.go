package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event is a structured audit record emitted as a JSON log line. It
// replaces the per-delivery flat-file log of the legacy webhook endpoint.
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogDepositCreated(transactionID, externalID string, amountCents int64, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "DEPOSIT_CREATED",
		TransactionID: transactionID,
		Status:        status,
		AmountCents:   amountCents,
		Details:       map[string]string{"external_id": externalID},
	})
}

func (a *Logger) LogWebhook(eventID, transactionID, status, method string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "WEBHOOK_RECEIVED",
		TransactionID: valueOr(transactionID, "UNKNOWN"),
		Status:        valueOr(status, "UNKNOWN"),
		Details: map[string]string{
			"event_id": valueOr(eventID, "UNKNOWN"),
			"method":   valueOr(method, "UNKNOWN"),
		},
	})
}

func (a *Logger) LogError(transactionID string, err error) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	event.ID = uuid.NewString()
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
