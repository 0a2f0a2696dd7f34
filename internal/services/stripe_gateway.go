package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// StripeGateway implements Gateway on Stripe PaymentIntents.
type StripeGateway struct {
	webhookSecret string
	logger        *zap.Logger
}

func NewStripeGateway(logger *zap.Logger) *StripeGateway {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")

	return &StripeGateway{
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		logger:        logger,
	}
}

func (g *StripeGateway) Name() models.PaymentGateway {
	return models.PaymentGatewayStripe
}

// CreateIntent reserves a PaymentIntent. The intent id is our gateway
// reference; the client secret goes to the browser for authorization.
func (g *StripeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toMinorUnits(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.AddMetadata("payment_id", fmt.Sprintf("%d", req.PaymentID))
	params.AddMetadata("tenant_id", fmt.Sprintf("%d", req.TenantID))

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create intent: %w", err)
	}

	g.logger.Info("stripe intent created",
		zap.String("intent_id", pi.ID),
		zap.Uint("payment_id", req.PaymentID))

	return &GatewayIntent{Reference: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Verify re-reads the intent from Stripe and maps its status to the
// provider-neutral outcome.
func (g *StripeGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("stripe verify %s: %w", reference, err)
	}

	result := &VerifyResult{
		RawStatus:      string(pi.Status),
		AmountCaptured: fromMinorUnits(pi.AmountReceived),
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = VerifySucceeded
	case stripe.PaymentIntentStatusCanceled:
		result.Status = VerifyFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Back at requires_payment_method with a recorded error means the
		// attempted charge was declined.
		if pi.LastPaymentError != nil {
			result.Status = VerifyFailed
		} else {
			result.Status = VerifyPending
		}
	default:
		// processing, requires_action, requires_confirmation, requires_capture
		result.Status = VerifyPending
	}

	return result, nil
}

func (g *StripeGateway) Cancel(ctx context.Context, reference string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := paymentintent.Cancel(reference, params); err != nil {
		return fmt.Errorf("stripe cancel %s: %w", reference, err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// intent reference and outcome from payment_intent.* events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookNotice, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("stripe webhook signature: %w", err)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe webhook payload: %w", err)
	}

	notice := &WebhookNotice{Reference: pi.ID, RawType: string(event.Type)}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		notice.Status = VerifySucceeded
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		notice.Status = VerifyFailed
	default:
		notice.Status = VerifyPending
	}
	return notice, nil
}

// toMinorUnits converts a face amount to the gateway's smallest currency
// unit (cents for the currencies this system handles).
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(100))
}
