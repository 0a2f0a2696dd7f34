package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// ReceiptService renders and delivers receipts. Issuance itself happens
// inside the reconciler's completion transaction; this service owns the
// numbering scheme and the read/export surface.
type ReceiptService struct {
	db     *gorm.DB
	email  *EmailService
	logger *zap.Logger
}

func NewReceiptService(db *gorm.DB, email *EmailService, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{db: db, email: email, logger: logger}
}

// NewReceiptNumber mints a receipt number: date for the human, random
// suffix for uniqueness. Not sequential, so issued volume doesn't leak;
// the unique index on receipts.receipt_number backs the guarantee under
// concurrent completion.
func (s *ReceiptService) NewReceiptNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("RCT-%s-%s", at.Format("20060102"), suffix)
}

// Get returns the receipt for a payment along with the payment itself.
func (s *ReceiptService) Get(ctx context.Context, paymentID uint) (*models.Receipt, *models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("payment %d: %w", paymentID, ErrNotFound)
		}
		return nil, nil, err
	}

	var receipt models.Receipt
	if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&receipt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &payment, fmt.Errorf("payment %d: %w", paymentID, ErrNoReceipt)
		}
		return nil, &payment, err
	}

	return &receipt, &payment, nil
}

// RenderPDF produces the printable receipt.
func (s *ReceiptService) RenderPDF(ctx context.Context, paymentID uint) ([]byte, error) {
	receipt, payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Payment Receipt")
	pdf.Ln(16)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Receipt Number", receipt.ReceiptNumber},
		{"Date", receipt.GeneratedAt.Format("January 2, 2006")},
		{"Tenant ID", fmt.Sprintf("%d", payment.TenantID)},
		{"Property ID", fmt.Sprintf("%d", payment.PropertyID)},
		{"Payment Type", string(payment.PaymentType)},
		{"Payment Method", payment.PaymentMethod},
		{"Description", payment.Description},
		{"Amount", fmt.Sprintf("%s %s", payment.Amount.StringFixed(2), strings.ToUpper(payment.Currency))},
		{"Processing Fee", payment.ProcessingFee.StringFixed(2)},
		{"Net Amount", payment.NetAmount.StringFixed(2)},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 8, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, row[1], "", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.Cell(0, 6, "This receipt certifies a completed payment and is kept on permanent record.")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// EmailReceipt sends the receipt summary to the given address.
func (s *ReceiptService) EmailReceipt(ctx context.Context, paymentID uint, to string) error {
	receipt, payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Payment receipt %s", receipt.ReceiptNumber)
	body := fmt.Sprintf(
		"Receipt Number: %s\nDate: %s\nPayment Type: %s\nAmount: %s %s\nProcessing Fee: %s\nNet Amount: %s\nDescription: %s\n",
		receipt.ReceiptNumber,
		receipt.GeneratedAt.Format("January 2, 2006"),
		payment.PaymentType,
		payment.Amount.StringFixed(2), strings.ToUpper(payment.Currency),
		payment.ProcessingFee.StringFixed(2),
		payment.NetAmount.StringFixed(2),
		payment.Description,
	)

	if err := s.email.SendEmail([]string{to}, subject, body); err != nil {
		return fmt.Errorf("email receipt %s: %w", receipt.ReceiptNumber, err)
	}

	s.logger.Info("receipt emailed",
		zap.String("receipt_number", receipt.ReceiptNumber),
		zap.Uint("payment_id", paymentID))
	return nil
}
