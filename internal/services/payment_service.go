package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// PaymentService creates payment attempts and obtains gateway intents.
// Duplicate submissions inside the dedup window collapse onto the
// existing attempt: a redis lock serializes concurrent callers, and a
// hashed dedup key under a unique index is the hard backstop.
type PaymentService struct {
	db             *gorm.DB
	cache          *RedisCache
	gateway        Gateway
	fees           FeePolicy
	currency       string
	dedupWindow    time.Duration
	gatewayTimeout time.Duration
	logger         *zap.Logger
}

func NewPaymentService(db *gorm.DB, cache *RedisCache, gateway Gateway, fees FeePolicy, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		db:             db,
		cache:          cache,
		gateway:        gateway,
		fees:           fees,
		currency:       EnvString("CURRENCY", "usd"),
		dedupWindow:    EnvDuration("DEDUP_WINDOW", 2*time.Minute),
		gatewayTimeout: EnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		logger:         logger,
	}
}

// CreatePaymentInput is the caller's request for a new payment attempt.
type CreatePaymentInput struct {
	TenantID      uint
	PropertyID    uint
	Amount        decimal.Decimal
	PaymentType   models.PaymentType
	PaymentMethod string
	Description   string
}

// Create validates and records a new payment in created status. The
// second return value reports a collapsed duplicate: the returned
// payment already existed and no new row was written.
func (s *PaymentService) Create(ctx context.Context, in CreatePaymentInput) (*models.Payment, bool, error) {
	if !in.Amount.IsPositive() {
		return nil, false, ErrInvalidAmount
	}
	if !models.ValidPaymentType(in.PaymentType) {
		return nil, false, ErrInvalidPaymentType
	}

	key := s.dedupFingerprint(in, time.Now())

	// Serialize concurrent identical submissions. Lock failures fall
	// through to the unique index, so redis being down only loses the
	// fast path.
	if s.cache != nil {
		held, err := s.cache.AcquireLock(ctx, "payments:dedup:"+key, "1", s.dedupWindow)
		if err != nil {
			s.logger.Warn("dedup lock unavailable", zap.Error(err))
		} else if !held {
			if existing, ok := s.findActiveByDedupKey(ctx, key); ok {
				return existing, true, nil
			}
		}
	}

	fee := s.fees.Fee(in.Amount)
	payment := &models.Payment{
		TenantID:      in.TenantID,
		PropertyID:    in.PropertyID,
		Amount:        in.Amount,
		Currency:      s.currency,
		ProcessingFee: fee,
		NetAmount:     in.Amount.Sub(fee),
		PaymentType:   in.PaymentType,
		PaymentMethod: in.PaymentMethod,
		Status:        models.PaymentStatusCreated,
		Description:   in.Description,
		DedupKey:      &key,
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := s.db.WithContext(ctx).Create(payment).Error
		if err == nil {
			return payment, false, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("create payment: %w", err)
		}

		// Key collision: an identical submission landed first. If that
		// attempt is still in flight it absorbs this request; a dead
		// attempt releases its key and we insert a fresh one.
		if existing, ok := s.findActiveByDedupKey(ctx, key); ok {
			return existing, true, nil
		}
		if rerr := s.releaseDedupKey(ctx, key); rerr != nil {
			return nil, false, fmt.Errorf("release dedup key: %w", rerr)
		}
		payment.ID = 0
	}

	return nil, false, fmt.Errorf("create payment: dedup key contention for tenant %d", in.TenantID)
}

// RequestIntent asks the gateway for an intent and moves the payment to
// intent_pending. A gateway failure marks the payment failed with reason
// gateway_unavailable; the caller retries with a fresh attempt.
func (s *PaymentService) RequestIntent(ctx context.Context, paymentID uint) (*models.Payment, string, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, "", err
	}
	if payment.Status != models.PaymentStatusCreated {
		return payment, "", fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrInvalidTransition)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	intent, gerr := s.gateway.CreateIntent(gctx, CreateIntentRequest{
		PaymentID:   payment.ID,
		TenantID:    payment.TenantID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Description: payment.Description,
	})
	if gerr != nil {
		s.logger.Error("gateway intent creation failed",
			zap.Uint("payment_id", payment.ID), zap.Error(gerr))

		updates := map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"failure_reason": models.FailureGatewayUnavailable,
			"dedup_key":      nil,
		}
		if uerr := s.db.WithContext(ctx).Model(payment).Updates(updates).Error; uerr != nil {
			return payment, "", fmt.Errorf("mark payment failed: %w", uerr)
		}
		return payment, "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
	}

	updates := map[string]interface{}{
		"status":            models.PaymentStatusIntentPending,
		"gateway":           s.gateway.Name(),
		"gateway_reference": intent.Reference,
	}
	if uerr := s.db.WithContext(ctx).Model(payment).Updates(updates).Error; uerr != nil {
		return payment, "", fmt.Errorf("record gateway reference: %w", uerr)
	}

	// The intent response is kept on the audit log so a collapsed
	// duplicate submission can be answered with the same client secret.
	meta, _ := json.Marshal(map[string]string{
		"reference":     intent.Reference,
		"client_secret": intent.ClientSecret,
	})
	event := models.GatewayEvent{
		PaymentID: &payment.ID,
		Gateway:   s.gateway.Name(),
		EventType: models.GatewayEventIntentCreated,
		Reference: intent.Reference,
		Metadata:  meta,
	}
	if eerr := s.db.WithContext(ctx).Create(&event).Error; eerr != nil {
		s.logger.Warn("failed to record intent event", zap.Error(eerr))
	}

	return payment, intent.ClientSecret, nil
}

// IntentSecret re-reads the client secret recorded when the intent was
// created, so a duplicate submission gets the same secret back.
func (s *PaymentService) IntentSecret(ctx context.Context, paymentID uint) (string, error) {
	var event models.GatewayEvent
	err := s.db.WithContext(ctx).
		Where("payment_id = ? AND event_type = ?", paymentID, models.GatewayEventIntentCreated).
		Order("id desc").First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}

	var meta struct {
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(event.Metadata, &meta); err != nil {
		return "", err
	}
	return meta.ClientSecret, nil
}

// Cancel explicitly abandons a payment that has not yet been confirmed
// client-side. Later than that the money may be moving; the caller has
// to wait for completion and refund instead.
func (s *PaymentService) Cancel(ctx context.Context, paymentID uint) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.Status.Cancelable() {
		return payment, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrNotCancelable)
	}

	if payment.Status == models.PaymentStatusIntentPending && payment.GatewayReference != nil {
		gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
		if gerr := s.gateway.Cancel(gctx, *payment.GatewayReference); gerr != nil {
			// The sweep expires dead intents; local cancellation still wins.
			s.logger.Warn("gateway cancel failed",
				zap.Uint("payment_id", payment.ID), zap.Error(gerr))
		}
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", payment.ID,
			[]models.PaymentStatus{models.PaymentStatusCreated, models.PaymentStatusIntentPending}).
		Updates(map[string]interface{}{
			"status":    models.PaymentStatusCancelled,
			"dedup_key": nil,
		})
	if res.Error != nil {
		return payment, fmt.Errorf("cancel payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race against a confirmation; report the current state.
		payment, err = s.load(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if payment.Status == models.PaymentStatusCancelled {
			return payment, nil
		}
		return payment, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, ErrNotCancelable)
	}

	return s.load(ctx, paymentID)
}

func (s *PaymentService) load(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentService) findActiveByDedupKey(ctx context.Context, key string) (*models.Payment, bool) {
	var existing models.Payment
	err := s.db.WithContext(ctx).
		Where("dedup_key = ? AND status IN ?", key,
			[]models.PaymentStatus{models.PaymentStatusCreated, models.PaymentStatusIntentPending}).
		First(&existing).Error
	if err != nil {
		return nil, false
	}
	return &existing, true
}

func (s *PaymentService) releaseDedupKey(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("dedup_key = ?", key).
		Update("dedup_key", nil).Error
}

// dedupFingerprint hashes the request identity together with the window
// bucket, so identical submissions inside one window share a key and the
// unique index collapses them.
func (s *PaymentService) dedupFingerprint(in CreatePaymentInput, now time.Time) string {
	bucket := now.Truncate(s.dedupWindow).Unix()
	raw := fmt.Sprintf("%d|%s|%s|%s|%d",
		in.TenantID, in.Amount.StringFixed(2), in.PaymentType, in.Description, bucket)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
