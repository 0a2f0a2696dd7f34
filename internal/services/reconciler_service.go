package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// errAlreadyTransitioned signals a lost compare-and-swap inside the
// completion transaction; the caller reloads and treats it as a no-op.
var errAlreadyTransitioned = errors.New("payment already transitioned")

// ReconcilerService drives payments from intent_pending to a terminal
// state. The split matters: ConfirmClientSide only records what the
// client claims it saw, ConfirmServerSide re-verifies against the
// gateway before anything is treated as money received. No payment
// reaches completed without that second check.
type ReconcilerService struct {
	db       *gorm.DB
	gateway  Gateway
	receipts *ReceiptService
	ledger   *LedgerService
	logger   *zap.Logger

	gatewayTimeout time.Duration
	maxAttempts    int
	reconcileAfter time.Duration
	intentExpiry   time.Duration
}

func NewReconcilerService(db *gorm.DB, gateway Gateway, receipts *ReceiptService, ledger *LedgerService, logger *zap.Logger) *ReconcilerService {
	return &ReconcilerService{
		db:             db,
		gateway:        gateway,
		receipts:       receipts,
		ledger:         ledger,
		logger:         logger,
		gatewayTimeout: EnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		maxAttempts:    EnvInt("VERIFY_MAX_ATTEMPTS", 5),
		reconcileAfter: EnvDuration("RECONCILE_AFTER", 10*time.Minute),
		intentExpiry:   EnvDuration("INTENT_EXPIRY", 24*time.Hour),
	}
}

// ConfirmClientSide records that the client observed a successful
// gateway authorization. Client-reported success is not trusted: the
// payment only advances to client_confirmed, never to completed.
// Repeated calls are no-ops.
func (s *ReconcilerService) ConfirmClientSide(ctx context.Context, paymentID uint, clientResult json.RawMessage) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PaymentStatusIntentPending:
		// fall through to the transition
	case models.PaymentStatusClientConfirmed, models.PaymentStatusCompleted, models.PaymentStatusRefunded:
		return payment, nil
	default:
		return payment, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrInvalidTransition)
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentStatusIntentPending).
		Update("status", models.PaymentStatusClientConfirmed)
	if res.Error != nil {
		return payment, fmt.Errorf("record client confirmation: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.recordEvent(ctx, &payment.ID, payment.Gateway, models.GatewayEventClientConfirmed,
			deref(payment.GatewayReference), clientResult)
	}

	return s.load(ctx, paymentID)
}

// ConfirmServerSide independently verifies the gateway outcome and, on
// success, completes the payment and issues its receipt in one
// transaction. Calling it on an already-completed payment returns the
// existing record; retried webhooks and overlapping sweep runs are safe.
func (s *ReconcilerService) ConfirmServerSide(ctx context.Context, paymentID uint) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PaymentStatusCompleted, models.PaymentStatusRefunded:
		return payment, nil
	case models.PaymentStatusClientConfirmed:
		// fall through to verification
	default:
		return payment, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrInvalidTransition)
	}
	if payment.GatewayReference == nil {
		return payment, fmt.Errorf("payment %d has no gateway reference: %w", paymentID, ErrInvalidTransition)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, verr := s.gateway.Verify(gctx, *payment.GatewayReference)
	if verr != nil {
		s.logger.Warn("gateway verification unreachable",
			zap.Uint("payment_id", payment.ID), zap.Error(verr))
		return s.countVerifyAttempt(ctx, payment, verr)
	}

	meta, _ := json.Marshal(map[string]string{
		"status":          string(result.Status),
		"raw_status":      result.RawStatus,
		"amount_captured": result.AmountCaptured.StringFixed(2),
	})
	s.recordEvent(ctx, &payment.ID, payment.Gateway, models.GatewayEventVerifyResult,
		*payment.GatewayReference, meta)

	switch result.Status {
	case VerifySucceeded:
		if !result.AmountCaptured.IsZero() && !result.AmountCaptured.Equal(payment.Amount) {
			// The gateway is authoritative for money movement; complete
			// anyway but leave a trace for the reconciliation report.
			s.logger.Warn("captured amount differs from recorded amount",
				zap.Uint("payment_id", payment.ID),
				zap.String("recorded", payment.Amount.StringFixed(2)),
				zap.String("captured", result.AmountCaptured.StringFixed(2)))
		}
		return s.complete(ctx, payment, nil)

	case VerifyFailed:
		if ferr := s.fail(ctx, payment, models.FailureGatewayDeclined); ferr != nil {
			return payment, ferr
		}
		payment, _ = s.load(ctx, paymentID)
		return payment, ErrGatewayDeclined

	default: // VerifyPending
		return s.countVerifyAttempt(ctx, payment, nil)
	}
}

// countVerifyAttempt burns one attempt from the verification budget and
// fails the payment once the budget is spent. An unreachable gateway and
// a still-pending intent count the same: neither is a decision.
func (s *ReconcilerService) countVerifyAttempt(ctx context.Context, payment *models.Payment, cause error) (*models.Payment, error) {
	attempts := payment.VerifyAttempts + 1
	if err := s.db.WithContext(ctx).Model(payment).
		Update("verify_attempts", attempts).Error; err != nil {
		return payment, fmt.Errorf("count verify attempt: %w", err)
	}
	payment.VerifyAttempts = attempts

	if attempts >= s.maxAttempts {
		if err := s.fail(ctx, payment, models.FailureVerificationTimeout); err != nil {
			return payment, err
		}
		payment, _ = s.load(ctx, payment.ID)
		return payment, fmt.Errorf("payment %d after %d attempts: %w", payment.ID, attempts, ErrVerificationTimeout)
	}

	if cause != nil {
		return payment, fmt.Errorf("%w: %v", ErrGatewayUnavailable, cause)
	}
	return payment, nil
}

// MarkPaid is the privileged admin override: it bypasses gateway
// verification but produces the same record shape as a verified
// completion, including the receipt. The manual gateway marker keeps
// such payments distinguishable in reporting.
func (s *ReconcilerService) MarkPaid(ctx context.Context, paymentID uint) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PaymentStatusCompleted, models.PaymentStatusRefunded:
		return payment, nil
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		return payment, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrInvalidTransition)
	}

	extra := map[string]interface{}{"gateway": models.PaymentGatewayManual}
	return s.complete(ctx, payment, extra)
}

// Refund releases a completed payment. The receipt row stays; it is the
// audit record of the original completion.
func (s *ReconcilerService) Refund(ctx context.Context, paymentID uint) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentStatusRefunded {
		return payment, nil
	}
	if payment.Status != models.PaymentStatusCompleted {
		return payment, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrInvalidTransition)
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentStatusCompleted).
		Update("status", models.PaymentStatusRefunded)
	if res.Error != nil {
		return payment, fmt.Errorf("refund payment: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		s.recordEvent(ctx, &payment.ID, payment.Gateway, models.GatewayEventRefund,
			deref(payment.GatewayReference), nil)
		s.ledger.Invalidate(ctx, payment.TenantID)
	}
	return s.load(ctx, paymentID)
}

// HandleWebhook authenticates and applies a gateway notification. The
// raw payload is recorded before any state changes, so a mishandled
// notification can be replayed. A success notification for an
// intent_pending payment records the client-side observation and then
// runs the authoritative verification; the webhook itself never
// completes a payment.
func (s *ReconcilerService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*models.Payment, error) {
	notice, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.recordEvent(ctx, nil, s.gateway.Name(), models.GatewayEventWebhookReceived, "", payload)
		return nil, fmt.Errorf("webhook rejected: %w", err)
	}

	var payment models.Payment
	ferr := s.db.WithContext(ctx).
		Where("gateway_reference = ?", notice.Reference).First(&payment).Error
	if ferr != nil {
		s.recordEvent(ctx, nil, s.gateway.Name(), models.GatewayEventWebhookReceived, notice.Reference, payload)
		if errors.Is(ferr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("webhook for unknown reference %s: %w", notice.Reference, ErrNotFound)
		}
		return nil, ferr
	}

	s.recordEvent(ctx, &payment.ID, payment.Gateway, models.GatewayEventWebhookReceived, notice.Reference, payload)

	if notice.Status == VerifyPending {
		return &payment, nil
	}

	if payment.Status == models.PaymentStatusIntentPending {
		if _, cerr := s.ConfirmClientSide(ctx, payment.ID, nil); cerr != nil {
			return &payment, cerr
		}
	}
	return s.ConfirmServerSide(ctx, payment.ID)
}

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	CheckedConfirmed int
	CheckedPending   int
	Completed        int
	Failed           int
	Errors           int
}

// Sweep resolves orphaned payments: client_confirmed rows whose server
// verification never arrived, and intent_pending rows old enough that
// the intent must be dead. Failures are logged and retried next pass;
// an unresolved client_confirmed payment is money in an unknown state,
// so it is never dropped silently.
func (s *ReconcilerService) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	var orphaned []models.Payment
	cutoff := time.Now().Add(-s.reconcileAfter)
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.PaymentStatusClientConfirmed, cutoff).
		Order("id").Find(&orphaned).Error; err != nil {
		return report, fmt.Errorf("sweep query: %w", err)
	}

	for i := range orphaned {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.CheckedConfirmed++

		resolved, err := s.ConfirmServerSide(ctx, orphaned[i].ID)
		switch {
		case err == nil && resolved.Status == models.PaymentStatusCompleted:
			report.Completed++
		case errors.Is(err, ErrGatewayDeclined) || errors.Is(err, ErrVerificationTimeout):
			report.Failed++
		case err != nil:
			report.Errors++
			s.logger.Error("sweep could not resolve payment",
				zap.Uint("payment_id", orphaned[i].ID), zap.Error(err))
		}
	}

	var stale []models.Payment
	expiry := time.Now().Add(-s.intentExpiry)
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentStatusIntentPending, expiry).
		Order("id").Find(&stale).Error; err != nil {
		return report, fmt.Errorf("sweep stale-intent query: %w", err)
	}

	for i := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.CheckedPending++

		if err := s.expireStaleIntent(ctx, &stale[i]); err != nil {
			report.Errors++
			s.logger.Error("sweep could not expire intent",
				zap.Uint("payment_id", stale[i].ID), zap.Error(err))
		} else {
			report.Failed++
		}
	}

	return report, nil
}

// expireStaleIntent checks a long-pending intent against the gateway one
// last time. A success means the client finished but every confirmation
// was lost: record it and complete through the normal path. Anything
// else fails the payment with reason expired.
func (s *ReconcilerService) expireStaleIntent(ctx context.Context, payment *models.Payment) error {
	if payment.GatewayReference != nil {
		gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()

		result, err := s.gateway.Verify(gctx, *payment.GatewayReference)
		if err == nil && result.Status == VerifySucceeded {
			if _, cerr := s.ConfirmClientSide(ctx, payment.ID, nil); cerr != nil {
				return cerr
			}
			_, cerr := s.ConfirmServerSide(ctx, payment.ID)
			return cerr
		}

		if cerr := s.gateway.Cancel(gctx, *payment.GatewayReference); cerr != nil {
			s.logger.Warn("gateway cancel of expired intent failed",
				zap.Uint("payment_id", payment.ID), zap.Error(cerr))
		}
	}

	return s.fail(ctx, payment, models.FailureIntentExpired)
}

// complete performs the completed transition and receipt issuance as one
// transaction, guarded by a compare-and-swap on status. Exactly one
// caller wins a race; everyone else observes the winner's record.
func (s *ReconcilerService) complete(ctx context.Context, payment *models.Payment, extra map[string]interface{}) (*models.Payment, error) {
	from := payment.Status
	number := s.receipts.NewReceiptNumber(time.Now())
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         models.PaymentStatusCompleted,
			"receipt_number": number,
			"completed_at":   now,
		}
		for k, v := range extra {
			updates[k] = v
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyTransitioned
		}

		receipt := models.Receipt{
			ReceiptNumber: number,
			PaymentID:     payment.ID,
			TenantID:      payment.TenantID,
			GeneratedAt:   now,
		}
		return tx.Create(&receipt).Error
	})

	if err != nil && !errors.Is(err, errAlreadyTransitioned) {
		return payment, fmt.Errorf("complete payment %d: %w", payment.ID, err)
	}

	reloaded, lerr := s.load(ctx, payment.ID)
	if lerr != nil {
		return payment, lerr
	}

	if errors.Is(err, errAlreadyTransitioned) {
		if reloaded.Status == models.PaymentStatusCompleted || reloaded.Status == models.PaymentStatusRefunded {
			return reloaded, nil
		}
		return reloaded, fmt.Errorf("payment %d is %s: %w", payment.ID, reloaded.Status, ErrInvalidTransition)
	}

	if _, ok := extra["gateway"]; ok {
		s.recordEvent(ctx, &payment.ID, models.PaymentGatewayManual, models.GatewayEventManualComplete,
			deref(payment.GatewayReference), nil)
	}
	s.ledger.Invalidate(ctx, payment.TenantID)

	s.logger.Info("payment completed",
		zap.Uint("payment_id", payment.ID),
		zap.Uint("tenant_id", payment.TenantID),
		zap.String("receipt_number", number))

	return reloaded, nil
}

// fail transitions a non-terminal payment to failed and releases its
// dedup key so the caller can retry with a fresh attempt.
func (s *ReconcilerService) fail(ctx context.Context, payment *models.Payment, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", payment.ID, []models.PaymentStatus{
			models.PaymentStatusCreated,
			models.PaymentStatusIntentPending,
			models.PaymentStatusClientConfirmed,
		}).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"failure_reason": reason,
			"dedup_key":      nil,
		})
	if res.Error != nil {
		return fmt.Errorf("fail payment %d: %w", payment.ID, res.Error)
	}
	return nil
}

func (s *ReconcilerService) recordEvent(ctx context.Context, paymentID *uint, gateway models.PaymentGateway, eventType models.GatewayEventType, reference string, metadata json.RawMessage) {
	event := models.GatewayEvent{
		PaymentID: paymentID,
		Gateway:   gateway,
		EventType: eventType,
		Reference: reference,
		Metadata:  metadata,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logger.Warn("failed to record gateway event",
			zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func (s *ReconcilerService) load(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &payment, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
