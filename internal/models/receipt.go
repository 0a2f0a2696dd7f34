package models

import "time"

// Receipt is the 1:1 record of a completed payment. Created exactly once,
// in the same transaction as the completed transition, and never deleted;
// it is the legal record of the payment.
type Receipt struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	ReceiptNumber string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"receipt_number"`
	PaymentID     uint      `gorm:"uniqueIndex;not null" json:"payment_id"`
	TenantID      uint      `gorm:"index" json:"tenant_id"`
	GeneratedAt   time.Time `json:"generated_at"`
}

func (Receipt) TableName() string {
	return "receipts"
}
