// Package gateway wraps the AbacatePay billing-creation API. The client is
// the only piece of the system that talks to the payment provider; there is
// no retry or circuit breaking around it, failures surface to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roletapay/backend/internal/config"
)

// Billing is the gateway-side resource representing a payable PIX link.
type Billing struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// BillingProduct is a line item of a billing request.
type BillingProduct struct {
	ExternalID  string `json:"externalId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

// BillingCustomer carries the payer identification sent on billing creation.
type BillingCustomer struct {
	Name      string `json:"name"`
	Cellphone string `json:"cellphone"`
	Email     string `json:"email"`
	TaxID     string `json:"taxId"`
}

// BillingRequest is the fixed payload shape the billing-create endpoint
// accepts.
type BillingRequest struct {
	Frequency     string            `json:"frequency"`
	Methods       []string          `json:"methods"`
	Products      []BillingProduct  `json:"products"`
	ReturnURL     string            `json:"returnUrl"`
	CompletionURL string            `json:"completionUrl"`
	AllowCoupons  bool              `json:"allowCoupons"`
	ExternalID    string            `json:"externalId"`
	Metadata      map[string]string `json:"metadata"`
	CustomerID    string            `json:"customerId,omitempty"`
	Customer      *BillingCustomer  `json:"customer,omitempty"`
}

// CustomerInput selects between a known gateway customer id and inline
// customer fields.
type CustomerInput struct {
	CustomerID string
	Name       string
	Cellphone  string
	Email      string
	TaxID      string
}

// APIError describes a reachable gateway that answered with a non-success
// or unusable response.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gateway: %s (status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("gateway: request failed with status %d", e.StatusCode)
}

// BuildBillingPayload assembles the billing-create request for a one-time
// PIX charge. When no customer id is supplied the inline customer block is
// filled with the original intake placeholders.
func BuildBillingPayload(amountCents int64, externalID, returnURL, completionURL string, customer CustomerInput) BillingRequest {
	req := BillingRequest{
		Frequency: "ONE_TIME",
		Methods:   []string{"PIX"},
		Products: []BillingProduct{
			{
				ExternalID:  "deposit-button",
				Name:        "Deposito",
				Description: "Deposito",
				Quantity:    1,
				Price:       amountCents,
			},
		},
		ReturnURL:     returnURL,
		CompletionURL: completionURL,
		AllowCoupons:  false,
		ExternalID:    externalID,
		Metadata:      map[string]string{"externalId": externalID},
	}

	if customer.CustomerID != "" {
		req.CustomerID = customer.CustomerID
		return req
	}

	req.Customer = &BillingCustomer{
		Name:      valueOr(customer.Name, "Cliente"),
		Cellphone: valueOr(customer.Cellphone, "(11) 99999-9999"),
		Email:     valueOr(customer.Email, "cliente@exemplo.com"),
		TaxID:     valueOr(customer.TaxID, "123.456.789-01"),
	}
	return req
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Client calls the AbacatePay HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg *config.GatewayConfig) *Client {
	return &Client{
		baseURL: cfg.APIBaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// CreateBilling POSTs the billing request and returns the created billing.
// Network failures are returned as-is; a reachable gateway that answers
// with a non-2xx status, an unparsable body or a billing without a payment
// URL yields an *APIError.
func (c *Client) CreateBilling(ctx context.Context, billing BillingRequest) (*Billing, error) {
	body, err := json.Marshal(billing)
	if err != nil {
		return nil, fmt.Errorf("failed to encode billing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/billing/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		raw = nil
	}

	var decoded struct {
		Data *Billing `json:"data"`
	}
	if raw != nil {
		// Tolerate bodies that are valid JSON but not the expected shape.
		_ = json.Unmarshal(raw, &decoded)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decoded.Data == nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: raw, Reason: "request failed"}
	}

	if decoded.Data.URL == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: raw, Reason: "payment URL not found"}
	}

	return decoded.Data, nil
}
