package handlers

import (
	"github.com/shopspring/decimal"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// CreatePaymentRequest is the body for POST /payments/create-payment-intent.
// Amount accepts either a JSON number or a string.
type CreatePaymentRequest struct {
	TenantID      uint               `json:"tenant_id"`
	PropertyID    uint               `json:"property_id"`
	Amount        decimal.Decimal    `json:"amount"`
	PaymentType   models.PaymentType `json:"payment_type"`
	PaymentMethod string             `json:"payment_method"`
	Description   string             `json:"description"`
}

// CreatePaymentResponse carries the new (or collapsed duplicate) payment
// and the client secret for gateway-side authorization.
type CreatePaymentResponse struct {
	Payment      *models.Payment `json:"payment"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Duplicate    bool            `json:"duplicate"`
}

// ConfirmPaymentRequest is the body for POST /payments/:id/confirm. The
// gateway result is recorded verbatim on the audit log; it is never
// trusted as the authoritative outcome.
type ConfirmPaymentRequest struct {
	GatewayResult map[string]interface{} `json:"gateway_result"`
}

// PaymentResponse wraps a single payment.
type PaymentResponse struct {
	Payment *models.Payment `json:"payment"`
}

// ListPaymentsResponse is one page of payment history.
type ListPaymentsResponse struct {
	Payments   []models.Payment `json:"payments"`
	TotalCount int64            `json:"total_count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
}

// ReceiptResponse is the receipt data together with its payment.
type ReceiptResponse struct {
	Receipt *models.Receipt `json:"receipt"`
	Payment *models.Payment `json:"payment"`
}

// EmailReceiptRequest is the body for POST /payments/:id/receipt/email.
type EmailReceiptRequest struct {
	To string `json:"to"`
}

// CreateChargeRequest is the body for POST /charges.
type CreateChargeRequest struct {
	TenantID    uint               `json:"tenant_id"`
	PropertyID  uint               `json:"property_id"`
	Amount      decimal.Decimal    `json:"amount"`
	ChargeType  models.PaymentType `json:"charge_type"`
	Description string             `json:"description"`
	DueDate     string             `json:"due_date"`
}
