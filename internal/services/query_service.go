package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/roletapay/backend/internal/models"
)

type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

const depositColumns = `transaction_id, external_id, amount_cents, status, payment_url, provider, created_at, updated_at`

// ListDeposits retrieves deposits
// @Summary List deposits
// @Description Look up one deposit by transaction or external id, or list the most recent deposits
// @Tags deposits
// @Produce json
// @Param transactionId query string false "Gateway transaction id"
// @Param externalId query string false "Locally generated external id"
// @Param limit query int false "Number of deposits to return (default 50, max 100)"
// @Success 200 {object} object{success=bool,data=[]models.Deposit}
// @Failure 405 {object} services.ErrorResponse
// @Failure 500 {object} object{success=bool,error=string}
// @Router /deposits [get]
func (qs *QueryService) ListDeposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		SendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed, nil)
		return
	}

	transactionID := r.URL.Query().Get("transactionId")
	externalID := r.URL.Query().Get("externalId")
	limit := clampLimit(r.URL.Query().Get("limit"))

	if transactionID != "" || externalID != "" {
		deposit, err := qs.fetchDeposit(transactionID, externalID)
		if err != nil && err != sql.ErrNoRows {
			log.Printf("[QUERY] Failed to fetch deposit: %v", err)
			sendQueryError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err == sql.ErrNoRows {
			json.NewEncoder(w).Encode(map[string]any{"success": true, "data": nil})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": deposit})
		return
	}

	deposits, err := qs.fetchRecentDeposits(limit)
	if err != nil {
		log.Printf("[QUERY] Failed to fetch deposits: %v", err)
		sendQueryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": deposits})
}

// fetchDeposit matches on either identifier and returns at most one row.
func (qs *QueryService) fetchDeposit(transactionID, externalID string) (*models.Deposit, error) {
	row := qs.db.QueryRow(`
        SELECT `+depositColumns+`
        FROM deposits
        WHERE transaction_id = $1 OR external_id = $2
        LIMIT 1
    `, transactionID, externalID)

	return scanDeposit(row)
}

func (qs *QueryService) fetchRecentDeposits(limit int) ([]models.Deposit, error) {
	rows, err := qs.db.Query(`
        SELECT `+depositColumns+`
        FROM deposits
        ORDER BY id DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deposits := []models.Deposit{}
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *deposit)
	}

	return deposits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	deposit := &models.Deposit{}
	var paymentURL sql.NullString

	err := row.Scan(
		&deposit.TransactionID, &deposit.ExternalID, &deposit.AmountCents,
		&deposit.Status, &paymentURL, &deposit.Provider,
		&deposit.CreatedAt, &deposit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	deposit.PaymentURL = paymentURL.String
	return deposit, nil
}

// clampLimit bounds the recent-list size to [1,100], defaulting to 50.
func clampLimit(raw string) int {
	limit := 50
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		return 1
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func sendQueryError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": err.Error()})
}
