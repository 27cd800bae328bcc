package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roletapay/backend/internal/audit"
	"github.com/roletapay/backend/internal/config"
	"github.com/roletapay/backend/internal/gateway"
)

// MinDepositCents is the smallest accepted deposit (R$ 20,00).
const MinDepositCents = 2000

type DepositService struct {
	db        *sql.DB
	gateway   *gateway.Client
	cfg       *config.GatewayConfig
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewDepositService(db *sql.DB, gw *gateway.Client, cfg *config.GatewayConfig) *DepositService {
	return &DepositService{
		db:        db,
		gateway:   gw,
		cfg:       cfg,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// createDepositInput covers the optional intake fields that have a
// verifiable format. The amount is parsed separately because it arrives
// in several representations.
type createDepositInput struct {
	Email         string `validate:"omitempty,email"`
	ReturnURL     string `validate:"omitempty,url"`
	CompletionURL string `validate:"omitempty,url"`
}

// CreateDeposit handles billing creation
// @Summary Create a PIX deposit
// @Description Validate the amount, create a billing at the payment gateway and record the pending deposit
// @Tags deposits
// @Accept json
// @Produce json
// @Param request body object{amount=string,returnUrl=string,completionUrl=string,customerId=string} true "Deposit request"
// @Success 200 {object} object{success=bool,transactionId=string,paymentUrl=string,url=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments [post]
func (ds *DepositService) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		SendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	input, err := parseCreateBody(r)
	if err != nil {
		SendErrorResponse(w, "Invalid body", http.StatusBadRequest, nil)
		return
	}

	amountCents, ok := ParseAmountToCents(input["amount"])
	if !ok || amountCents < MinDepositCents {
		SendErrorResponse(w, "Valor minimo e R$ 20,00", http.StatusBadRequest, nil)
		return
	}

	if err := ds.validator.ValidateStruct(&createDepositInput{
		Email:         stringField(input, "email"),
		ReturnURL:     stringField(input, "returnUrl"),
		CompletionURL: stringField(input, "completionUrl"),
	}); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if ds.cfg.Token == "" {
		SendErrorResponse(w, "Missing ABACATEPAY_TOKEN", http.StatusInternalServerError, nil)
		return
	}

	returnURL := firstNonEmpty(stringField(input, "returnUrl"), ds.cfg.ReturnURL, requestOrigin(r))
	completionURL := firstNonEmpty(stringField(input, "completionUrl"), ds.cfg.CompletionURL, requestOrigin(r))

	externalID := newExternalID()

	payload := gateway.BuildBillingPayload(amountCents, externalID, returnURL, completionURL, gateway.CustomerInput{
		CustomerID: stringField(input, "customerId"),
		Name:       firstNonEmpty(stringField(input, "nome"), stringField(input, "name"), stringField(input, "nome_completo")),
		Cellphone:  firstNonEmpty(stringField(input, "telefone"), stringField(input, "phone")),
		Email:      stringField(input, "email"),
		TaxID:      firstNonEmpty(stringField(input, "cpf"), stringField(input, "taxId")),
	})

	billing, err := ds.gateway.CreateBilling(r.Context(), payload)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			log.Printf("[DEPOSIT] Gateway request failed: %v", apiErr)
			SendErrorDetail(w, "Gateway request failed", http.StatusBadGateway, apiErr)
			return
		}
		log.Printf("[DEPOSIT] Gateway unreachable: %v", err)
		SendErrorResponse(w, "Gateway error", http.StatusBadGateway, nil)
		return
	}

	if err := ds.upsertDeposit(billing, externalID, amountCents); err != nil {
		// A charge may already exist upstream at this point. The window is
		// surfaced to the caller, not compensated.
		log.Printf("[DEPOSIT] Failed to store deposit %s: %v", billing.ID, err)
		ds.audit.LogError(billing.ID, err)
		SendErrorDetail(w, "DB error", http.StatusInternalServerError, err)
		return
	}

	ds.audit.LogDepositCreated(billing.ID, externalID, billingAmount(billing, amountCents), billingStatus(billing))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"transactionId": billing.ID,
		"paymentUrl":    billing.URL,
		"url":           billing.URL,
		"data":          billing,
	})
}

// upsertDeposit records the pending deposit keyed on the gateway
// transaction id. A retried creation call converges on the same row
// instead of duplicating it.
func (ds *DepositService) upsertDeposit(billing *gateway.Billing, externalID string, amountCents int64) error {
	_, err := ds.db.Exec(`
        INSERT INTO deposits
        (transaction_id, external_id, amount_cents, status, payment_url, provider, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        ON CONFLICT (transaction_id) DO UPDATE
        SET amount_cents = EXCLUDED.amount_cents,
            status = EXCLUDED.status,
            payment_url = EXCLUDED.payment_url,
            updated_at = NOW()
    `, billing.ID, externalID, billingAmount(billing, amountCents), billingStatus(billing), billing.URL, ds.cfg.Provider)

	return err
}

// parseCreateBody accepts JSON or form-encoded bodies. With no usable
// content type it tries JSON first and falls back to form decoding.
func parseCreateBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/json":
		return decodeJSONBody(raw)
	case "application/x-www-form-urlencoded":
		return decodeFormBody(raw)
	}

	if input, err := decodeJSONBody(raw); err == nil {
		return input, nil
	}
	return decodeFormBody(raw)
}

func decodeJSONBody(raw []byte) (map[string]any, error) {
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}

func decodeFormBody(raw []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	input := make(map[string]any, len(values))
	for key := range values {
		input[key] = values.Get(key)
	}
	return input, nil
}

// requestOrigin derives a return URL from the request when neither the
// body nor the environment supplies one.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		return referer
	}
	if r.Host != "" {
		return "https://" + r.Host + "/"
	}
	return ""
}

// newExternalID builds the locally generated correlation id. Timestamp plus
// a random suffix keeps the collision probability low, not zero.
func newExternalID() string {
	return fmt.Sprintf("dep_%d_%d", time.Now().UnixMilli(), 1000+rand.Intn(9000))
}

func stringField(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func billingAmount(billing *gateway.Billing, fallback int64) int64 {
	if billing.Amount > 0 {
		return billing.Amount
	}
	return fallback
}

func billingStatus(billing *gateway.Billing) string {
	if billing.Status != "" {
		return billing.Status
	}
	return "PENDING"
}
