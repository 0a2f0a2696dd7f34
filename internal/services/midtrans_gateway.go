package services

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// MidtransGateway implements Gateway on Midtrans: Snap for intent
// creation (the Snap token is the client secret) and CoreAPI for
// authoritative status checks.
type MidtransGateway struct {
	serverKey  string
	snapClient snap.Client
	coreClient coreapi.Client
	logger     *zap.Logger
}

func NewMidtransGateway(logger *zap.Logger, timeout time.Duration) *MidtransGateway {
	serverKey := os.Getenv("MIDTRANS_SERVER_KEY")
	clientKey := os.Getenv("MIDTRANS_CLIENT_KEY")

	env := midtrans.Sandbox
	if os.Getenv("MIDTRANS_IS_PRODUCTION") == "true" {
		env = midtrans.Production
	}

	// The midtrans client has no per-call context support; the shared
	// HTTP client timeout bounds every gateway call instead.
	midtrans.DefaultGoHttpClient = &http.Client{Timeout: timeout}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	midtrans.ServerKey = serverKey
	midtrans.ClientKey = clientKey
	midtrans.Environment = env

	return &MidtransGateway{
		serverKey:  serverKey,
		snapClient: s,
		coreClient: c,
		logger:     logger,
	}
}

func (g *MidtransGateway) Name() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// CreateIntent creates a Snap transaction. The order id we mint is the
// gateway reference for the rest of the payment's life.
func (g *MidtransGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*GatewayIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orderID := fmt.Sprintf("pay-%d-%d", req.PaymentID, time.Now().Unix())

	param := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.Amount.Round(0).IntPart(),
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    fmt.Sprintf("tenant-%d", req.TenantID),
				Name:  req.Description,
				Price: req.Amount.Round(0).IntPart(),
				Qty:   1,
			},
		},
	}

	resp, err := g.snapClient.CreateTransaction(param)
	if err != nil {
		return nil, fmt.Errorf("midtrans create transaction: %w", err)
	}

	g.logger.Info("midtrans transaction created",
		zap.String("order_id", orderID),
		zap.Uint("payment_id", req.PaymentID))

	return &GatewayIntent{Reference: orderID, ClientSecret: resp.Token}, nil
}

// Verify checks the transaction status with CoreAPI and maps Midtrans
// statuses to the provider-neutral outcome.
func (g *MidtransGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := g.coreClient.CheckTransaction(reference)
	if err != nil {
		return nil, fmt.Errorf("midtrans check transaction %s: %w", reference, err)
	}

	result := &VerifyResult{RawStatus: resp.TransactionStatus}
	if amt, perr := decimal.NewFromString(resp.GrossAmount); perr == nil {
		result.AmountCaptured = amt
	}

	switch resp.TransactionStatus {
	case "settlement", "capture":
		result.Status = VerifySucceeded
	case "deny", "cancel", "expire", "failure":
		result.Status = VerifyFailed
	default:
		// pending, authorize
		result.Status = VerifyPending
	}

	return result, nil
}

func (g *MidtransGateway) Cancel(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := g.coreClient.CancelTransaction(reference); err != nil {
		return fmt.Errorf("midtrans cancel %s: %w", reference, err)
	}
	return nil
}

// midtransNotification is the subset of the notification payload the
// reconciler needs.
type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	SignatureKey      string `json:"signature_key"`
}

// ParseWebhook validates the notification signature
// (sha512(order_id + status_code + gross_amount + server_key)) and maps
// the reported status. The signature parameter is unused; Midtrans signs
// inside the payload.
func (g *MidtransGateway) ParseWebhook(payload []byte, _ string) (*WebhookNotice, error) {
	var n midtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("midtrans notification payload: %w", err)
	}

	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + g.serverKey))
	if hex.EncodeToString(sum[:]) != n.SignatureKey {
		return nil, fmt.Errorf("midtrans notification signature mismatch for order %s", n.OrderID)
	}

	notice := &WebhookNotice{Reference: n.OrderID, RawType: n.TransactionStatus}
	switch n.TransactionStatus {
	case "settlement", "capture":
		notice.Status = VerifySucceeded
	case "deny", "cancel", "expire", "failure":
		notice.Status = VerifyFailed
	default:
		notice.Status = VerifyPending
	}
	return notice, nil
}
