package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/roletapay/backend/internal/audit"
	"github.com/roletapay/backend/internal/config"
)

// statusEventsKey is the Redis list paid/expired status changes are pushed
// to for downstream consumers.
const statusEventsKey = "deposit_status_events"

type WebhookService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.GatewayConfig
	audit *audit.Logger
}

func NewWebhookService(db *sql.DB, redisClient *redis.Client, cfg *config.GatewayConfig) *WebhookService {
	return &WebhookService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
		audit: audit.NewLogger(),
	}
}

// The gateway delivers several payload shapes (billing, pixQrCode, payment
// objects or top-level fields). Each field is resolved by walking an
// ordered list of paths into the data document; the first non-empty value
// wins.
var (
	transactionIDPaths = [][]string{{"billing", "id"}, {"pixQrCode", "id"}, {"id"}}
	statusPaths        = [][]string{{"billing", "status"}, {"pixQrCode", "status"}, {"status"}}
	amountPaths        = [][]string{{"billing", "paidAmount"}, {"billing", "amount"}, {"pixQrCode", "amount"}, {"payment", "amount"}, {"amount"}}
	methodPaths        = [][]string{{"payment", "method"}, {"method"}, {"methods", "0"}}
)

// HandleWebhook processes billing status notifications
// @Summary AbacatePay webhook
// @Description Authenticate and apply an inbound billing status notification
// @Tags webhooks
// @Accept json
// @Produce json
// @Param webhookSecret query string true "Shared webhook secret"
// @Success 200 {object} object{received=bool,transactionId=string,status=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /webhooks/abacatepay [post]
func (ws *WebhookService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		SendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil || len(rawBody) == 0 {
		SendErrorResponse(w, "Empty body", http.StatusBadRequest, nil)
		return
	}

	if ws.cfg.WebhookSecret == "" {
		SendErrorResponse(w, "Missing webhook secret", http.StatusInternalServerError, nil)
		return
	}

	if r.URL.Query().Get("webhookSecret") != ws.cfg.WebhookSecret {
		SendErrorResponse(w, "Invalid webhook secret", http.StatusUnauthorized, nil)
		return
	}

	// Signature verification runs whenever a public key is configured.
	if ws.cfg.PublicKey != "" {
		if !ws.verifySignature(rawBody, r.Header.Get("X-Webhook-Signature")) {
			SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		SendErrorResponse(w, "Invalid JSON", http.StatusBadRequest, nil)
		return
	}

	eventID, _ := payload["id"].(string)
	eventType, _ := payload["event"].(string)
	if eventType == "" {
		eventType = "unknown"
	}
	data, _ := payload["data"].(map[string]any)

	transactionID := firstStringAt(data, transactionIDPaths)
	status := firstStringAt(data, statusPaths)
	amountCents := firstNumberAt(data, amountPaths)
	method := firstStringAt(data, methodPaths)

	if eventID != "" {
		if err := ws.recordEvent(eventID, eventType, rawBody); err != nil {
			log.Printf("[WEBHOOK] Failed to record event %s: %v", eventID, err)
			SendErrorDetail(w, "DB error", http.StatusInternalServerError, err)
			return
		}
	}

	if transactionID != "" && status != "" {
		rows, err := ws.applyStatus(transactionID, status, amountCents)
		if err != nil {
			log.Printf("[WEBHOOK] Failed to update deposit %s: %v", transactionID, err)
			ws.audit.LogError(transactionID, err)
			SendErrorDetail(w, "DB error", http.StatusInternalServerError, err)
			return
		}
		if rows == 0 {
			// Acknowledged anyway: a notification may arrive for a deposit
			// created through another channel.
			log.Printf("[WEBHOOK] No deposit matched transaction %s", transactionID)
		} else {
			ws.notifyStatusChange(r.Context(), transactionID, status, amountCents)
		}
	}

	ws.audit.LogWebhook(eventID, transactionID, status, method)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"received":      true,
		"transactionId": nullableString(transactionID),
		"status":        nullableString(status),
	})
}

func (ws *WebhookService) verifySignature(rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}

	h := hmac.New(sha256.New, []byte(ws.cfg.PublicKey))
	h.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// recordEvent upserts the dedup/audit row for an event id. A replayed
// delivery only refreshes received_at; the status update is still applied
// by the caller.
func (ws *WebhookService) recordEvent(eventID, eventType string, rawBody []byte) error {
	_, err := ws.db.Exec(`
        INSERT INTO webhook_events (event_id, event_type, received_at, payload_text)
        VALUES ($1, $2, NOW(), $3)
        ON CONFLICT (event_id) DO UPDATE SET received_at = NOW()
    `, eventID, eventType, string(rawBody))

	return err
}

// applyStatus is last-write-wins: nothing orders out-of-order deliveries,
// the row-level lock is the only serialization point.
func (ws *WebhookService) applyStatus(transactionID, status string, amountCents sql.NullInt64) (int64, error) {
	result, err := ws.db.Exec(`
        UPDATE deposits
        SET status = $1,
            amount_cents = COALESCE($2, amount_cents),
            updated_at = NOW()
        WHERE transaction_id = $3
    `, status, amountCents, transactionID)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

func (ws *WebhookService) notifyStatusChange(ctx context.Context, transactionID, status string, amountCents sql.NullInt64) {
	if ws.redis == nil {
		return
	}

	event := map[string]any{
		"transactionId": transactionID,
		"status":        status,
		"timestamp":     time.Now().Unix(),
	}
	if amountCents.Valid {
		event["amountCents"] = amountCents.Int64
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := ws.redis.RPush(ctx, statusEventsKey, data).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to queue status event for %s: %v", transactionID, err)
	}
}

// lookupPath walks one path into the document. A numeric segment indexes
// into a JSON array.
func lookupPath(doc map[string]any, path []string) any {
	var current any = doc
	for _, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			current = node[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

func firstStringAt(doc map[string]any, paths [][]string) string {
	if doc == nil {
		return ""
	}
	for _, path := range paths {
		if s, ok := lookupPath(doc, path).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstNumberAt resolves the first value along the paths that parses as a
// finite number. The result is invalid when no path yields one, in which
// case the stored amount is left unchanged.
func firstNumberAt(doc map[string]any, paths [][]string) sql.NullInt64 {
	if doc == nil {
		return sql.NullInt64{}
	}
	for _, path := range paths {
		value := lookupPath(doc, path)
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			if v != 0 {
				return sql.NullInt64{Int64: int64(v), Valid: true}
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil && f != 0 {
				return sql.NullInt64{Int64: int64(f), Valid: true}
			}
		}
	}
	return sql.NullInt64{}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
