package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// Gateway abstracts the external payment processor. Implementations wrap
// a provider SDK; the reconciler only relies on this contract:
// CreateIntent reserves a payment attempt gateway-side, Verify re-reads
// the authoritative outcome, Cancel releases an unfinished intent.
//
// Every call must respect the deadline on ctx; a gateway that hangs is a
// failed call, not a stuck payment.
type Gateway interface {
	Name() models.PaymentGateway
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*GatewayIntent, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	Cancel(ctx context.Context, reference string) error

	// ParseWebhook authenticates a provider notification and extracts the
	// reference it is about. The notice is advisory: completion still goes
	// through Verify.
	ParseWebhook(payload []byte, signature string) (*WebhookNotice, error)
}

// CreateIntentRequest carries everything a provider needs to reserve an
// intent. Amount is the face value; providers convert to their smallest
// currency unit themselves.
type CreateIntentRequest struct {
	PaymentID   uint
	TenantID    uint
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// GatewayIntent is the provider-side reservation for an attempt.
// ClientSecret is handed to the client for gateway-side authorization and
// is never persisted.
type GatewayIntent struct {
	Reference    string
	ClientSecret string
}

// VerifyStatus is the provider-neutral verification outcome.
type VerifyStatus string

const (
	VerifySucceeded VerifyStatus = "succeeded"
	VerifyFailed    VerifyStatus = "failed"
	VerifyPending   VerifyStatus = "pending"
)

// VerifyResult is the authoritative gateway outcome for a reference.
// RawStatus keeps the provider's own status string for the audit log.
type VerifyResult struct {
	Status         VerifyStatus
	AmountCaptured decimal.Decimal
	RawStatus      string
}

// WebhookNotice is a parsed, authenticated provider notification.
type WebhookNotice struct {
	Reference string
	Status    VerifyStatus
	RawType   string
}
