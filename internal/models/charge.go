package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Charge is one entry of the externally supplied charge schedule (lease
// rent, recurring fees). The ledger derives a tenant's balance from these
// rows minus completed payments; charges are inputs, never mutated by the
// payment flow.
type Charge struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID    uint            `gorm:"index;not null" json:"tenant_id"`
	PropertyID  uint            `gorm:"index" json:"property_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	ChargeType  PaymentType     `gorm:"type:varchar(50)" json:"charge_type"`
	Description string          `gorm:"type:varchar(255)" json:"description"`
	DueDate     time.Time       `json:"due_date"`
}

func (Charge) TableName() string {
	return "charges"
}
