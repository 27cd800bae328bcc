package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/roletapay/backend/internal/services"
)

type QRHandler struct {
	service *services.QRService
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service: service,
	}
}

// DepositQR renders a deposit's payment link as a QR code
// @Summary Deposit payment QR
// @Description Return the deposit's payment URL as a base64 PNG QR image
// @Tags deposits
// @Produce json
// @Param txId path string true "Transaction or external id"
// @Success 200 {object} object{success=bool,transactionId=string,paymentUrl=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /deposits/{txId}/qr [get]
func (h *QRHandler) DepositQR(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	paymentURL, qrImage, err := h.service.PaymentLinkQR(r.Context(), txID)
	if err != nil {
		if err == services.ErrDepositNotFound {
			services.SendErrorResponse(w, "Deposit not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to render QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"transactionId": txID,
		"paymentUrl":    paymentURL,
		"qrImage":       qrImage,
	})
}
