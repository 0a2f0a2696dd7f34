package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// LedgerService derives a tenant's balance. The balance is never stored:
// every read recomputes from the charge schedule and the payment log, so
// there is no counter to drift when an update path is missed. Only
// completed payments count; failed, cancelled and refunded attempts
// never enter the sum.
type LedgerService struct {
	db       *gorm.DB
	cache    *RedisCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewLedgerService(db *gorm.DB, cache *RedisCache, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		db:       db,
		cache:    cache,
		cacheTTL: EnvDuration("BALANCE_CACHE_TTL", 30*time.Second),
		logger:   logger,
	}
}

// Balance is the derived view of a tenant's standing. Positive means
// owed, negative means credit.
type Balance struct {
	TenantID       uint            `json:"tenant_id"`
	TotalCharges   decimal.Decimal `json:"total_charges"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AsOf           time.Time       `json:"as_of"`
}

// GetBalance computes charges minus completed payments for the tenant.
// Reads tolerate eventual consistency (a completion racing the read may
// or may not show), so a short cache in front is fine; completions and
// refunds invalidate it.
func (s *LedgerService) GetBalance(ctx context.Context, tenantID uint) (*Balance, error) {
	return GetOrSet(s.cache, ctx, balanceKey(tenantID), s.cacheTTL, func() (*Balance, error) {
		return s.computeBalance(ctx, tenantID)
	})
}

func (s *LedgerService) computeBalance(ctx context.Context, tenantID uint) (*Balance, error) {
	var charges []models.Charge
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).Find(&charges).Error; err != nil {
		return nil, fmt.Errorf("load charges: %w", err)
	}

	var payments []models.Payment
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, models.PaymentStatusCompleted).
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("load completed payments: %w", err)
	}

	totalCharges := decimal.Zero
	for _, c := range charges {
		totalCharges = totalCharges.Add(c.Amount)
	}

	totalPaid := decimal.Zero
	for _, p := range payments {
		totalPaid = totalPaid.Add(p.Amount)
	}

	return &Balance{
		TenantID:       tenantID,
		TotalCharges:   totalCharges,
		TotalPaid:      totalPaid,
		CurrentBalance: totalCharges.Sub(totalPaid),
		AsOf:           time.Now(),
	}, nil
}

// Invalidate drops the cached balance after a completion or refund.
func (s *LedgerService) Invalidate(ctx context.Context, tenantID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, balanceKey(tenantID)); err != nil {
		s.logger.Warn("balance cache invalidation failed",
			zap.Uint("tenant_id", tenantID), zap.Error(err))
	}
}

// RecordCharge appends an entry to the tenant's charge schedule.
func (s *LedgerService) RecordCharge(ctx context.Context, charge *models.Charge) error {
	if !charge.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if charge.ChargeType == "" {
		charge.ChargeType = models.PaymentTypeOther
	}
	if err := s.db.WithContext(ctx).Create(charge).Error; err != nil {
		return fmt.Errorf("record charge: %w", err)
	}
	s.Invalidate(ctx, charge.TenantID)
	return nil
}

// ListCharges returns the tenant's charge schedule, newest due first.
func (s *LedgerService) ListCharges(ctx context.Context, tenantID uint) ([]models.Charge, error) {
	var charges []models.Charge
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("due_date desc").Find(&charges).Error
	if err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	return charges, nil
}

func balanceKey(tenantID uint) string {
	return fmt.Sprintf("payments:balance:%d", tenantID)
}
