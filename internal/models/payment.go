package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks a payment through its lifecycle. Transitions are
// one-directional; the only transition out of a terminal status is
// completed -> refunded.
type PaymentStatus string

const (
	PaymentStatusCreated         PaymentStatus = "created"
	PaymentStatusIntentPending   PaymentStatus = "intent_pending"
	PaymentStatusClientConfirmed PaymentStatus = "client_confirmed"
	PaymentStatusCompleted       PaymentStatus = "completed"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

// Terminal reports whether no further transition is allowed, except
// completed -> refunded.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// Cancelable reports whether an explicit cancel is still allowed.
// After client confirmation the money may already be moving, so the
// only way out is a refund once completed.
func (s PaymentStatus) Cancelable() bool {
	return s == PaymentStatusCreated || s == PaymentStatusIntentPending
}

type PaymentType string

const (
	PaymentTypeRent        PaymentType = "rent"
	PaymentTypeLateFee     PaymentType = "late_fee"
	PaymentTypeDeposit     PaymentType = "deposit"
	PaymentTypeUtilities   PaymentType = "utilities"
	PaymentTypeMaintenance PaymentType = "maintenance"
	PaymentTypeOther       PaymentType = "other"
)

// ValidPaymentType reports whether t is one of the known payment types.
func ValidPaymentType(t PaymentType) bool {
	switch t {
	case PaymentTypeRent, PaymentTypeLateFee, PaymentTypeDeposit,
		PaymentTypeUtilities, PaymentTypeMaintenance, PaymentTypeOther:
		return true
	}
	return false
}

type PaymentGateway string

const (
	PaymentGatewayStripe   PaymentGateway = "stripe"
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	// PaymentGatewayManual marks admin mark-paid completions that bypassed
	// the gateway, so reporting can tell them apart.
	PaymentGatewayManual PaymentGateway = "manual"
)

// Failure reasons recorded when a payment transitions to failed.
const (
	FailureGatewayUnavailable  = "gateway_unavailable"
	FailureGatewayDeclined     = "gateway_declined"
	FailureVerificationTimeout = "verification_timeout"
	FailureIntentExpired       = "expired"
)

// Payment is a single money-movement attempt. Rows are never deleted;
// failed and cancelled attempts stay on record as the audit trail.
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID   uint `gorm:"index;not null" json:"tenant_id"`
	PropertyID uint `gorm:"index" json:"property_id"`

	Amount        decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	Currency      string          `gorm:"type:varchar(3)" json:"currency"`
	ProcessingFee decimal.Decimal `gorm:"type:decimal(15,2)" json:"processing_fee"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(15,2)" json:"net_amount"`

	PaymentType   PaymentType    `gorm:"type:varchar(50);index" json:"payment_type"`
	PaymentMethod string         `gorm:"type:varchar(100)" json:"payment_method"`
	Status        PaymentStatus  `gorm:"type:varchar(50);index" json:"status"`
	Gateway       PaymentGateway `gorm:"type:varchar(50)" json:"gateway"`

	// GatewayReference is the gateway-side intent id; set once the payment
	// reaches intent_pending.
	GatewayReference *string `gorm:"type:varchar(100);uniqueIndex" json:"gateway_reference,omitempty"`

	// ReceiptNumber is assigned exactly once, inside the same transaction
	// as the transition into completed.
	ReceiptNumber *string `gorm:"type:varchar(100);uniqueIndex" json:"receipt_number,omitempty"`

	// DedupKey collapses duplicate submissions: a hash of
	// (tenant, amount, type, description, window bucket) under a unique
	// index. Released when the attempt is dead so a retry can insert.
	DedupKey *string `gorm:"type:varchar(64);uniqueIndex" json:"-"`

	Description    string     `gorm:"type:varchar(255)" json:"description"`
	FailureReason  string     `gorm:"type:varchar(100)" json:"failure_reason,omitempty"`
	VerifyAttempts int        `json:"verify_attempts"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Receipt *Receipt `gorm:"foreignKey:PaymentID" json:"receipt,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}
