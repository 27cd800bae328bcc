package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/roletapay/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookConfig() *config.GatewayConfig {
	return &config.GatewayConfig{
		WebhookSecret: "shh",
		Provider:      "abacatepay",
	}
}

func webhookRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/abacatepay?webhookSecret=shh", strings.NewReader(body))
}

func TestWebhookService_HandleWebhook_Auth(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ws := NewWebhookService(db, nil, webhookConfig())

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		ws.HandleWebhook(w, httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/abacatepay", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing server secret", func(t *testing.T) {
		noSecret := NewWebhookService(db, nil, &config.GatewayConfig{})

		w := httptest.NewRecorder()
		noSecret.HandleWebhook(w, webhookRequest(`{}`))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/abacatepay?webhookSecret=nope", strings.NewReader(`{}`))
		ws.HandleWebhook(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(`not-json`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhookService_HandleWebhook_Signature(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := webhookConfig()
	cfg.PublicKey = "pub-key"
	ws := NewWebhookService(db, nil, cfg)

	body := `{"id":"evt_sig","event":"billing.paid","data":{"billing":{"id":"tx_sig","status":"PAID"}}}`

	sign := func(payload string) string {
		h := hmac.New(sha256.New, []byte("pub-key"))
		h.Write([]byte(payload))
		return base64.StdEncoding.EncodeToString(h.Sum(nil))
	}

	t.Run("missing signature", func(t *testing.T) {
		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := webhookRequest(body)
		req.Header.Set("X-Webhook-Signature", "bad-signature")
		ws.HandleWebhook(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid signature", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_sig", "billing.paid", body).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE deposits").
			WithArgs("PAID", nil, "tx_sig").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		req := webhookRequest(body)
		req.Header.Set("X-Webhook-Signature", sign(body))
		ws.HandleWebhook(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWebhookService_HandleWebhook_Reconciliation(t *testing.T) {
	t.Run("billing shape updates status and amount", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ws := NewWebhookService(db, nil, webhookConfig())

		body := `{"id":"evt_1","event":"billing.paid","data":{"billing":{"id":"tx_1","status":"PAID","paidAmount":5000}}}`

		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_1", "billing.paid", body).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE deposits").
			WithArgs("PAID", int64(5000), "tx_1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Received      bool   `json:"received"`
			TransactionID string `json:"transactionId"`
			Status        string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Received)
		assert.Equal(t, "tx_1", resp.TransactionID)
		assert.Equal(t, "PAID", resp.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pixQrCode shape", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ws := NewWebhookService(db, nil, webhookConfig())

		body := `{"id":"evt_2","event":"pix.paid","data":{"pixQrCode":{"id":"tx_2","status":"PAID","amount":3000}}}`

		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_2", "pix.paid", body).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE deposits").
			WithArgs("PAID", int64(3000), "tx_2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-numeric amount leaves stored amount unchanged", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ws := NewWebhookService(db, nil, webhookConfig())

		body := `{"id":"evt_3","event":"billing.paid","data":{"billing":{"id":"tx_3","status":"PAID","amount":"n/a"}}}`

		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_3", "billing.paid", body).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE deposits").
			WithArgs("PAID", nil, "tx_3").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction is still acknowledged", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ws := NewWebhookService(db, nil, webhookConfig())

		body := `{"id":"evt_4","event":"billing.paid","data":{"billing":{"id":"tx_missing","status":"PAID"}}}`

		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_4", "billing.paid", body).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE deposits").
			WithArgs("PAID", nil, "tx_missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay refreshes the event row and reapplies the update", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ws := NewWebhookService(db, nil, webhookConfig())

		body := `{"id":"evt_5","event":"billing.paid","data":{"billing":{"id":"tx_5","status":"PAID"}}}`

		for i := 0; i < 2; i++ {
			mock.ExpectExec("INSERT INTO webhook_events").
				WithArgs("evt_5", "billing.paid", body).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("UPDATE deposits").
				WithArgs("PAID", nil, "tx_5").
				WillReturnResult(sqlmock.NewResult(0, 1))
		}

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			ws.HandleWebhook(w, webhookRequest(body))
			assert.Equal(t, http.StatusOK, w.Code, "delivery %d", i+1)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status without transaction id skips the update", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ws := NewWebhookService(db, nil, webhookConfig())

		body := `{"id":"evt_6","event":"billing.created","data":{"status":"PENDING"}}`

		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_6", "billing.created", body).
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Nil(t, resp["transactionId"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status change pushed to redis queue", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		ws := NewWebhookService(db, redisClient, webhookConfig())

		body := `{"id":"evt_7","event":"billing.paid","data":{"billing":{"id":"tx_7","status":"PAID","paidAmount":2000}}}`

		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("evt_7", "billing.paid", body).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE deposits").
			WithArgs("PAID", int64(2000), "tx_7").
			WillReturnResult(sqlmock.NewResult(0, 1))

		// The event payload carries a timestamp, match on the key only.
		redisMock.CustomMatch(func(expected, actual []interface{}) error {
			if len(actual) < 2 || actual[1] != statusEventsKey {
				return fmt.Errorf("unexpected redis command: %v", actual)
			}
			return nil
		}).ExpectRPush(statusEventsKey, "ignored").SetVal(1)

		w := httptest.NewRecorder()
		ws.HandleWebhook(w, webhookRequest(body))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestWebhookFieldExtraction(t *testing.T) {
	t.Run("precedence order", func(t *testing.T) {
		doc := map[string]any{
			"billing":   map[string]any{"id": "tx_billing", "status": "PAID", "paidAmount": float64(100)},
			"pixQrCode": map[string]any{"id": "tx_pix", "status": "EXPIRED", "amount": float64(200)},
			"id":        "tx_top",
			"status":    "PENDING",
			"amount":    float64(300),
		}

		assert.Equal(t, "tx_billing", firstStringAt(doc, transactionIDPaths))
		assert.Equal(t, "PAID", firstStringAt(doc, statusPaths))

		amount := firstNumberAt(doc, amountPaths)
		assert.True(t, amount.Valid)
		assert.Equal(t, int64(100), amount.Int64)
	})

	t.Run("falls through empty shapes", func(t *testing.T) {
		doc := map[string]any{
			"id":     "tx_top",
			"status": "PAID",
			"amount": float64(300),
		}

		assert.Equal(t, "tx_top", firstStringAt(doc, transactionIDPaths))
		assert.Equal(t, "PAID", firstStringAt(doc, statusPaths))
		assert.Equal(t, int64(300), firstNumberAt(doc, amountPaths).Int64)
	})

	t.Run("zero paid amount falls back to billing amount", func(t *testing.T) {
		doc := map[string]any{
			"billing": map[string]any{"paidAmount": float64(0), "amount": float64(4500)},
		}

		amount := firstNumberAt(doc, amountPaths)
		assert.True(t, amount.Valid)
		assert.Equal(t, int64(4500), amount.Int64)
	})

	t.Run("method array indexing", func(t *testing.T) {
		doc := map[string]any{
			"methods": []any{"PIX"},
		}

		assert.Equal(t, "PIX", firstStringAt(doc, methodPaths))
	})

	t.Run("nil document", func(t *testing.T) {
		assert.Equal(t, "", firstStringAt(nil, transactionIDPaths))
		assert.False(t, firstNumberAt(nil, amountPaths).Valid)
	})
}
