package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/models"
)

// PaymentQueryService is the read side: paginated, filterable payment
// history for tenants and administrators.
type PaymentQueryService struct {
	db *gorm.DB
}

func NewPaymentQueryService(db *gorm.DB) *PaymentQueryService {
	return &PaymentQueryService{db: db}
}

// PaymentFilter composes with AND semantics; nil fields are ignored.
type PaymentFilter struct {
	TenantID    *uint
	Status      *models.PaymentStatus
	PaymentType *models.PaymentType
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// List returns one page of payments, most recent first, with the total
// count matching the filtered set. Count and page are read inside one
// transaction so the total stays consistent with the page even while
// writes land concurrently.
func (s *PaymentQueryService) List(ctx context.Context, filter PaymentFilter) ([]models.Payment, int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	} else if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var payments []models.Payment
	var total int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := applyFilter(tx.Model(&models.Payment{}), filter)

		if err := query.Count(&total).Error; err != nil {
			return err
		}

		return query.
			Order("created_at desc").Order("id desc").
			Limit(limit).Offset(offset).
			Find(&payments).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	return payments, total, nil
}

// Get loads a single payment with its receipt, if issued.
func (s *PaymentQueryService) Get(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Preload("Receipt").First(&payment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &payment, nil
}

func applyFilter(query *gorm.DB, filter PaymentFilter) *gorm.DB {
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PaymentType != nil {
		query = query.Where("payment_type = ?", *filter.PaymentType)
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}
	return query
}
